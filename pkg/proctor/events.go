package proctor

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Violation types the client can report.
const (
	ViolationTabSwitch      = "TAB_SWITCH"
	ViolationCameraOff      = "CAMERA_OFF"
	ViolationAudioNoise     = "AUDIO_NOISE"
	ViolationFullscreenExit = "FULLSCREEN_EXIT"
	ViolationWindowBlur     = "WINDOW_BLUR"
)

// Submit types.
const (
	SubmitManual        = "manual"
	SubmitAutoTime      = "auto-time"
	SubmitAutoViolation = "auto-violation"
	SubmitTerminated    = "terminated"
)

// Client-to-server realtime events.
const (
	EventStudentStartedTest  = "student-started-test"
	EventViolationDetected   = "violation-detected"
	EventTestAutoSubmitted   = "test-auto-submitted"
	EventAdminJoinMonitoring = "admin-join-monitoring"
	EventAdminTerminateTest  = "admin-terminate-test"
	EventAdminSendWarning    = "admin-send-warning"
)

// Server-to-client realtime events.
const (
	EventStudentJoined       = "student-joined"
	EventViolationAlert      = "violation-alert"
	EventAutoSubmitAlert     = "auto-submit-alert"
	EventStudentDisconnected = "student-disconnected"
	EventStudentSnapshot     = "student-snapshot"
	EventTerminateTest       = "terminate-test"
	EventWarningFromAdmin    = "warning-from-admin"
)

// StudentJoinedEvent announces a student to the monitoring room. Re-sent
// after every reconnect; aggregators treat it as an upsert keyed by
// test_response_id.
type StudentJoinedEvent struct {
	TestStudentID  int       `json:"test_student_id"`
	TestID         uuid.UUID `json:"test_id"`
	TestResponseID uuid.UUID `json:"test_response_id"`
	UserID         int       `json:"user_id"`
	StudentName    string    `json:"student_name"`
	TestTitle      string    `json:"test_title"`
}

// ViolationDetectedEvent is the student's realtime violation report.
// Display only; the threshold decision travels over HTTP.
type ViolationDetectedEvent struct {
	TestResponseID uuid.UUID       `json:"test_response_id"`
	ViolationType  string          `json:"violation_type"`
	StudentName    string          `json:"student_name"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// ViolationAlertEvent is received by admins on every violation.
type ViolationAlertEvent struct {
	TestResponseID uuid.UUID `json:"test_response_id"`
	ViolationType  string    `json:"violation_type"`
	StudentName    string    `json:"student_name"`
}

// AutoSubmitAlertEvent tells admins an attempt left the live roster.
type AutoSubmitAlertEvent struct {
	TestResponseID uuid.UUID `json:"test_response_id"`
	SubmitType     string    `json:"submit_type"`
	Reason         string    `json:"reason,omitempty"`
}

// StudentDisconnectedEvent is received when a student socket drops.
type StudentDisconnectedEvent struct {
	TestResponseID uuid.UUID `json:"test_response_id"`
}

// StudentSnapshotEvent carries a stored snapshot URL to admins.
type StudentSnapshotEvent struct {
	TestResponseID uuid.UUID `json:"test_response_id"`
	ImageURL       string    `json:"image_url"`
	CapturedAt     int64     `json:"captured_at"`
}

// AdminTerminateEvent is the admin's kill order for one attempt.
type AdminTerminateEvent struct {
	TestResponseID uuid.UUID `json:"test_response_id"`
	Reason         string    `json:"reason"`
	AdminName      string    `json:"admin_name"`
}

// AdminWarningEvent is a one-off message to a single student.
type AdminWarningEvent struct {
	TestResponseID uuid.UUID `json:"test_response_id"`
	Message        string    `json:"message"`
}

// TerminateEvent is delivered to the terminated student.
type TerminateEvent struct {
	Reason string `json:"reason"`
}

// WarningEvent is delivered to the warned student.
type WarningEvent struct {
	Message string `json:"message"`
}
