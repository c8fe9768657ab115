package proctor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Error codes the client dispatches on. The set mirrors the backend's
// response envelope codes.
const (
	CodeInvalidIdentity    = "INVALID_IDENTITY"
	CodeInvalidOTP         = "INVALID_OTP"
	CodeOTPExpired         = "OTP_EXPIRED"
	CodeTooManyAttempts    = "TOO_MANY_OTP_ATTEMPTS"
	CodeSessionEnded       = "SESSION_ENDED"
	CodeTestNotAvailable   = "TEST_NOT_AVAILABLE"
	CodeResponseFinalized  = "RESPONSE_ALREADY_FINALIZED"
	CodeSubmissionFailed   = "SUBMISSION_FAILED"
	CodeSnapshotTooLarge   = "SNAPSHOT_TOO_LARGE"
	CodeSnapshotInvalid    = "SNAPSHOT_INVALID"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
)

// APIError is a structured error returned by the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Test is the exam definition as delivered to clients.
type Test struct {
	ID              uuid.UUID  `json:"id"`
	InstituteID     uuid.UUID  `json:"institute_id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	ViolationLimit  int        `json:"violation_limit"`
	QuestionCount   int        `json:"question_count"`
	Status          string     `json:"status"`
}

// Question is one question of the delivered paper. Options is an opaque
// JSON document; correct answers are never included.
type Question struct {
	ID           uuid.UUID       `json:"id"`
	QuestionText string          `json:"question_text"`
	Options      json.RawMessage `json:"options"`
	OrderNum     int             `json:"order_num"`
}

// Attempt mirrors the backend's test response record.
type Attempt struct {
	ID             uuid.UUID  `json:"id"`
	TestID         uuid.UUID  `json:"test_id"`
	TestStudentID  int        `json:"test_student_id"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	SubmitType     *string    `json:"submit_type,omitempty"`
	ViolationCount int        `json:"violation_count"`
}

// RosterEntry is the identity returned with a verified OTP.
type RosterEntry struct {
	ID     int       `json:"id"`
	TestID uuid.UUID `json:"test_id"`
	UserID int       `json:"user_id"`
	Name   string    `json:"name"`
	Email  string    `json:"email,omitempty"`
}

// VerifyOTPResult carries the exam token plus the server time used for
// clock-offset computation.
type VerifyOTPResult struct {
	Token       string      `json:"token"`
	TestStudent RosterEntry `json:"test_student"`
	Test        Test        `json:"test"`
	ServerTime  time.Time   `json:"server_time"`
}

// StartResult is the paper plus the attempt state, including answers
// autosaved before a reconnect.
type StartResult struct {
	Test         Test              `json:"test"`
	Questions    []Question        `json:"questions"`
	TestResponse Attempt           `json:"test_response"`
	SavedAnswers map[string]string `json:"saved_answers"`
}

// ViolationWarning is the soft outcome of a violation report.
type ViolationWarning struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
	Limit   int    `json:"limit"`
}

// ViolationOutcome is the server's authoritative threshold decision.
type ViolationOutcome struct {
	Warning       *ViolationWarning `json:"warning,omitempty"`
	AutoSubmitted bool              `json:"auto_submitted,omitempty"`
}

// SubmitResult reports whether this call finalized the attempt.
// Submitted is false when the attempt was already final.
type SubmitResult struct {
	TestResponse Attempt `json:"test_response"`
	Submitted    bool    `json:"submitted"`
}

// LiveSession is one active attempt in the admin roster snapshot.
type LiveSession struct {
	TestResponseID uuid.UUID `json:"test_response_id"`
	TestStudentID  int       `json:"test_student_id"`
	UserID         int       `json:"user_id"`
	StudentName    string    `json:"student_name"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	ViolationCount int64     `json:"violation_count"`
}

// LiveRosterResult is the authoritative roster for one test, used by
// admin aggregators to resync after a reconnect.
type LiveRosterResult struct {
	Test     Test          `json:"test"`
	Sessions []LiveSession `json:"sessions"`
}

// AdminLoginResult carries the admin token and profile.
type AdminLoginResult struct {
	Token string `json:"token"`
	Admin struct {
		ID          int       `json:"id"`
		InstituteID uuid.UUID `json:"institute_id"`
		Email       string    `json:"email"`
		Name        string    `json:"name"`
	} `json:"admin"`
}

// API is a thin client for the proctoring backend's REST surface.
// It is stateless: session tokens are passed per call so the session
// controller stays the single owner of credential lifecycle.
type API struct {
	baseURL string
	http    *http.Client
}

// NewAPI creates an API client for the given base URL, e.g.
// "https://exam.example.com". A nil httpClient uses a 15s-timeout default.
func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{baseURL: baseURL, http: httpClient}
}

// envelope is the backend's standard response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	} `json:"error,omitempty"`
}

func (a *API) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}

	if env.Error != nil {
		return &APIError{
			Status:  resp.StatusCode,
			Code:    env.Error.Code,
			Message: env.Error.Message,
			Fields:  env.Error.Fields,
		}
	}
	if resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Code: "UNKNOWN", Message: http.StatusText(resp.StatusCode)}
	}

	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// RequestOTP asks the backend to issue an OTP for a roster pair.
func (a *API) RequestOTP(ctx context.Context, userID int, testID uuid.UUID) error {
	body := map[string]interface{}{"user_id": userID, "test_id": testID}
	return a.do(ctx, http.MethodPost, "/api/v1/exam/otp/request", "", body, nil)
}

// VerifyOTP redeems an OTP for an exam session token.
func (a *API) VerifyOTP(ctx context.Context, userID int, testID uuid.UUID, otp string) (*VerifyOTPResult, error) {
	body := map[string]interface{}{"user_id": userID, "test_id": testID, "otp": otp}
	var out VerifyOTPResult
	if err := a.do(ctx, http.MethodPost, "/api/v1/exam/otp/verify", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartTest creates or resumes the attempt bound to the token.
func (a *API) StartTest(ctx context.Context, token string) (*StartResult, error) {
	var out StartResult
	if err := a.do(ctx, http.MethodPost, "/api/v1/exam/start", token, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveAnswer autosaves one answer. Last write wins per question.
func (a *API) SaveAnswer(ctx context.Context, token string, responseID, questionID uuid.UUID, selectedOption string, timeSpentSecs int) error {
	body := map[string]interface{}{
		"test_response_id": responseID,
		"question_id":      questionID,
		"selected_option":  selectedOption,
		"time_spent":       timeSpentSecs,
	}
	return a.do(ctx, http.MethodPost, "/api/v1/exam/answers", token, body, nil)
}

// LogViolation reports a violation and returns the server's threshold
// decision. The caller must honor AutoSubmitted by ending the attempt
// locally.
func (a *API) LogViolation(ctx context.Context, token string, responseID uuid.UUID, violationType string, metadata json.RawMessage) (*ViolationOutcome, error) {
	body := map[string]interface{}{
		"test_response_id": responseID,
		"violation_type":   violationType,
	}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	var out ViolationOutcome
	if err := a.do(ctx, http.MethodPost, "/api/v1/exam/violations", token, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadSnapshot sends a webcam still as a base64 data URL and returns
// the stored image URL.
func (a *API) UploadSnapshot(ctx context.Context, token string, responseID uuid.UUID, imageData string) (string, error) {
	body := map[string]interface{}{
		"test_response_id": responseID,
		"image_data":       imageData,
	}
	var out struct {
		ImageURL string `json:"image_url"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/v1/exam/snapshots", token, body, &out); err != nil {
		return "", err
	}
	return out.ImageURL, nil
}

// Submit finalizes the attempt. Safe to retry: a repeat submission
// returns the already-final attempt with Submitted=false.
func (a *API) Submit(ctx context.Context, token string, responseID uuid.UUID, submitType string) (*SubmitResult, error) {
	body := map[string]interface{}{
		"test_response_id": responseID,
		"submit_type":      submitType,
	}
	var out SubmitResult
	if err := a.do(ctx, http.MethodPost, "/api/v1/exam/submit", token, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminLogin authenticates an admin and returns a monitoring token.
func (a *API) AdminLogin(ctx context.Context, email, password string) (*AdminLoginResult, error) {
	body := map[string]interface{}{"email": email, "password": password}
	var out AdminLoginResult
	if err := a.do(ctx, http.MethodPost, "/api/v1/auth/admin/login", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LiveRoster fetches the authoritative active roster for a test.
func (a *API) LiveRoster(ctx context.Context, token string, testID uuid.UUID) (*LiveRosterResult, error) {
	var out LiveRosterResult
	if err := a.do(ctx, http.MethodGet, "/api/v1/admin/tests/"+testID.String()+"/live", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
