package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Exam access ───────────────────────────────────────────────────
	ErrInvalidIdentity ErrCode = "INVALID_IDENTITY"
	ErrInvalidOTP      ErrCode = "INVALID_OTP"
	ErrOTPExpired      ErrCode = "OTP_EXPIRED"
	ErrTooManyAttempts ErrCode = "TOO_MANY_OTP_ATTEMPTS"

	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrSessionEnded       ErrCode = "SESSION_ENDED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden      ErrCode = "FORBIDDEN"
	ErrStudentOnly    ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminOnly      ErrCode = "ADMIN_ACCESS_ONLY"
	ErrWrongInstitute ErrCode = "WRONG_INSTITUTE"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrTestNotAvailable   ErrCode = "TEST_NOT_AVAILABLE"
	ErrResponseFinalized  ErrCode = "RESPONSE_ALREADY_FINALIZED"
	ErrSubmissionFailed   ErrCode = "SUBMISSION_FAILED"
	ErrViolationThreshold ErrCode = "VIOLATION_THRESHOLD_EXCEEDED"
	ErrSnapshotTooLarge   ErrCode = "SNAPSHOT_TOO_LARGE"
	ErrSnapshotInvalid    ErrCode = "SNAPSHOT_INVALID"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Rate limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrInvalidIdentity:
		return "No roster entry matches this user and test."
	case ErrInvalidOTP:
		return "The one-time password is incorrect."
	case ErrOTPExpired:
		return "The one-time password has expired. Request a new one."
	case ErrTooManyAttempts:
		return "Too many failed OTP attempts. Request a new one."
	case ErrInvalidCredentials:
		return "Email or password is incorrect."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrSessionEnded:
		return "This exam session has ended."
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentOnly:
		return "This resource is restricted to exam sessions."
	case ErrAdminOnly:
		return "This resource is restricted to administrators."
	case ErrWrongInstitute:
		return "This resource belongs to a different institute."
	case ErrValidation:
		return "Validation failed. Check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrTestNotAvailable:
		return "This test is not currently available."
	case ErrResponseFinalized:
		return "This attempt has already been submitted or terminated."
	case ErrSubmissionFailed:
		return "Submission failed. Try again."
	case ErrViolationThreshold:
		return "The violation limit for this test has been exceeded."
	case ErrSnapshotTooLarge:
		return "Snapshot image exceeds the size limit."
	case ErrSnapshotInvalid:
		return "Snapshot image data could not be decoded."
	case ErrNotFound:
		return "Resource not found."
	case ErrRateLimitExceeded:
		return "Too many requests. Try again later."
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
