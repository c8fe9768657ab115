package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ViolationType enumerates integrity-policy breaches detectable during an exam.
// FULLSCREEN_EXIT and WINDOW_BLUR are accepted on the wire but clients do
// not currently produce them.
type ViolationType string

const (
	ViolationTabSwitch      ViolationType = "TAB_SWITCH"
	ViolationCameraOff      ViolationType = "CAMERA_OFF"
	ViolationAudioNoise     ViolationType = "AUDIO_NOISE"
	ViolationFullscreenExit ViolationType = "FULLSCREEN_EXIT"
	ViolationWindowBlur     ViolationType = "WINDOW_BLUR"
)

// Valid reports whether t is a known violation type.
func (t ViolationType) Valid() bool {
	switch t {
	case ViolationTabSwitch, ViolationCameraOff, ViolationAudioNoise,
		ViolationFullscreenExit, ViolationWindowBlur:
		return true
	}
	return false
}

// Violation is a recorded integrity breach for one attempt.
type Violation struct {
	ID             int64           `json:"id"`
	TestResponseID uuid.UUID       `json:"test_response_id"`
	Type           ViolationType   `json:"type"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

// LogViolationRequest is the payload for reporting a violation.
type LogViolationRequest struct {
	TestResponseID uuid.UUID       `json:"test_response_id" binding:"required"`
	ViolationType  ViolationType   `json:"violation_type" binding:"required"`
	Metadata       json.RawMessage `json:"metadata" binding:"omitempty"`
}

// ViolationWarning is the soft outcome of a violation report.
type ViolationWarning struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
	Limit   int    `json:"limit"`
}

// ViolationOutcome is the server's authoritative threshold decision.
// Exactly one of Warning or AutoSubmitted is meaningful.
type ViolationOutcome struct {
	Warning       *ViolationWarning `json:"warning,omitempty"`
	AutoSubmitted bool              `json:"auto_submitted,omitempty"`
}
