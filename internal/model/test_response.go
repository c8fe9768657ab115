package model

import (
	"time"

	"github.com/google/uuid"
)

// ResponseStatus enumerates test response (attempt) states.
type ResponseStatus string

const (
	ResponseStatusInProgress ResponseStatus = "IN_PROGRESS"
	ResponseStatusSubmitted  ResponseStatus = "SUBMITTED"
	ResponseStatusTerminated ResponseStatus = "TERMINATED"
)

// SubmitType records how an attempt ended.
type SubmitType string

const (
	SubmitTypeManual        SubmitType = "manual"
	SubmitTypeAutoTime      SubmitType = "auto-time"
	SubmitTypeAutoViolation SubmitType = "auto-violation"
	SubmitTypeTerminated    SubmitType = "terminated"
)

// TestResponse represents one student's attempt at a test.
type TestResponse struct {
	ID             uuid.UUID      `json:"id"`
	TestID         uuid.UUID      `json:"test_id"`
	TestStudentID  int            `json:"test_student_id"`
	Status         ResponseStatus `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	SubmittedAt    *time.Time     `json:"submitted_at,omitempty"`
	SubmitType     *SubmitType    `json:"submit_type,omitempty"`
	ViolationCount int            `json:"violation_count"`
}

// StartTestResponse is returned by POST /start.
type StartTestResponse struct {
	Test         Test              `json:"test"`
	Questions    []Question        `json:"questions"`
	TestResponse TestResponse      `json:"test_response"`
	SavedAnswers map[string]string `json:"saved_answers"`
}

// SaveAnswerRequest is the payload for autosaving a single answer.
// Last write wins per question_id; arrival order of concurrent saves is
// not significant.
type SaveAnswerRequest struct {
	TestResponseID uuid.UUID `json:"test_response_id" binding:"required"`
	QuestionID     uuid.UUID `json:"question_id" binding:"required"`
	SelectedOption string    `json:"selected_option" binding:"required,max=16"`
	TimeSpentSecs  int       `json:"time_spent" binding:"omitempty,min=0"`
}

// SubmitRequest is the payload for finalizing an attempt.
type SubmitRequest struct {
	TestResponseID uuid.UUID  `json:"test_response_id" binding:"required"`
	SubmitType     SubmitType `json:"submit_type" binding:"required,oneof=manual auto-time auto-violation"`
}
