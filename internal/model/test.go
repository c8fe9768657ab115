package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TestStatus enumerates the possible states of a test.
type TestStatus string

const (
	TestStatusDraft     TestStatus = "DRAFT"
	TestStatusPublished TestStatus = "PUBLISHED"
	TestStatusClosed    TestStatus = "CLOSED"
)

// Test represents a proctored online test.
type Test struct {
	ID              uuid.UUID  `json:"id"`
	InstituteID     uuid.UUID  `json:"institute_id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	ViolationLimit  int        `json:"violation_limit"`
	QuestionCount   int        `json:"question_count"`
	Status          TestStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Question is a single test question as delivered to students.
// Correct answers never leave the backend.
type Question struct {
	ID           uuid.UUID       `json:"id"`
	TestID       uuid.UUID       `json:"-"`
	QuestionText string          `json:"question_text"`
	Options      json.RawMessage `json:"options"`
	OrderNum     int             `json:"order_num"`
}

// Institute scopes tests, admins, and proctoring rooms.
type Institute struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
