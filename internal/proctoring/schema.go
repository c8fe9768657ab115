package proctoring

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Client-to-server events.
const (
	EventStudentStartedTest  = "student-started-test"
	EventViolationDetected   = "violation-detected"
	EventTestAutoSubmitted   = "test-auto-submitted"
	EventAdminJoinMonitoring = "admin-join-monitoring"
	EventAdminTerminateTest  = "admin-terminate-test"
	EventAdminSendWarning    = "admin-send-warning"
)

// Server-to-client events.
const (
	EventStudentJoined       = "student-joined"
	EventViolationAlert      = "violation-alert"
	EventAutoSubmitAlert     = "auto-submit-alert"
	EventStudentDisconnected = "student-disconnected"
	EventStudentSnapshot     = "student-snapshot"
	EventTerminateTest       = "terminate-test"
	EventWarningFromAdmin    = "warning-from-admin"
)

// Message is the event envelope on the wire.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StudentJoinedPayload registers a student with the monitoring room.
// Sent by the student on start and re-sent after every reconnect; the
// admin side must treat it as an upsert keyed by test_response_id.
type StudentJoinedPayload struct {
	TestStudentID  int       `json:"test_student_id"`
	TestID         uuid.UUID `json:"test_id"`
	TestResponseID uuid.UUID `json:"test_response_id"`
	UserID         int       `json:"user_id"`
	StudentName    string    `json:"student_name"`
	TestTitle      string    `json:"test_title"`
}

// ViolationDetectedPayload is the student's realtime violation report.
// The authoritative count lives on the HTTP path; this event only feeds
// the live admin view.
type ViolationDetectedPayload struct {
	TestResponseID uuid.UUID       `json:"test_response_id"`
	ViolationType  string          `json:"violation_type"`
	StudentName    string          `json:"student_name"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// ViolationAlertPayload is fanned out to admins on every violation.
type ViolationAlertPayload struct {
	TestResponseID uuid.UUID `json:"test_response_id"`
	ViolationType  string    `json:"violation_type"`
	StudentName    string    `json:"student_name"`
}

// AutoSubmitAlertPayload tells admins an attempt left the live roster.
type AutoSubmitAlertPayload struct {
	TestResponseID uuid.UUID `json:"test_response_id"`
	SubmitType     string    `json:"submit_type"`
	Reason         string    `json:"reason,omitempty"`
}

// StudentDisconnectedPayload is sent when a student socket drops.
type StudentDisconnectedPayload struct {
	TestResponseID uuid.UUID `json:"test_response_id"`
}

// StudentSnapshotPayload carries a stored snapshot URL to admins.
type StudentSnapshotPayload struct {
	TestResponseID uuid.UUID `json:"test_response_id"`
	ImageURL       string    `json:"image_url"`
	CapturedAt     int64     `json:"captured_at"`
}

// AdminTerminatePayload is the admin's kill order for one attempt.
type AdminTerminatePayload struct {
	TestResponseID uuid.UUID `json:"test_response_id"`
	Reason         string    `json:"reason"`
	AdminName      string    `json:"admin_name"`
}

// AdminWarningPayload is a one-off message to a single student.
type AdminWarningPayload struct {
	TestResponseID uuid.UUID `json:"test_response_id"`
	Message        string    `json:"message"`
}

// TerminatePayload is delivered to the terminated student.
type TerminatePayload struct {
	Reason string `json:"reason"`
}

// WarningPayload is delivered to the warned student.
type WarningPayload struct {
	Message string `json:"message"`
}
