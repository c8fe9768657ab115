package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/provexa/proctor-backend/internal/middleware"
	"github.com/provexa/proctor-backend/internal/model"
	"github.com/provexa/proctor-backend/internal/proctoring"
	"github.com/provexa/proctor-backend/internal/repository"
	"github.com/provexa/proctor-backend/internal/response"
	"github.com/provexa/proctor-backend/internal/service"
	"github.com/provexa/proctor-backend/internal/validator"
)

// ExamHandler handles the student-facing exam session endpoints.
type ExamHandler struct {
	otpService       *service.OTPService
	authService      *service.AuthService
	sessionService   *service.SessionService
	violationService *service.ViolationService
	snapshotService  *service.SnapshotService
	testRepo         *repository.TestRepository
	hub              *proctoring.Hub
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(
	otpService *service.OTPService,
	authService *service.AuthService,
	sessionService *service.SessionService,
	violationService *service.ViolationService,
	snapshotService *service.SnapshotService,
	testRepo *repository.TestRepository,
	hub *proctoring.Hub,
) *ExamHandler {
	return &ExamHandler{
		otpService:       otpService,
		authService:      authService,
		sessionService:   sessionService,
		violationService: violationService,
		snapshotService:  snapshotService,
		testRepo:         testRepo,
		hub:              hub,
	}
}

// RequestOTP godoc
// POST /api/v1/exam/otp/request
// Issues an OTP for a user/test roster pair. Always returns 202 on a
// valid roster match; delivery happens out of band.
func (h *ExamHandler) RequestOTP(c *gin.Context) {
	var req model.RequestOTPRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.otpService.Request(c.Request.Context(), req.UserID, req.TestID); err != nil {
		if errors.Is(err, service.ErrInvalidIdentity) {
			response.Fail(c, http.StatusNotFound, response.ErrInvalidIdentity)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"message": "otp issued"})
}

// VerifyOTP godoc
// POST /api/v1/exam/otp/verify
// Redeems an OTP and returns the exam session token plus the test info
// and server time for clock-offset computation.
func (h *ExamHandler) VerifyOTP(c *gin.Context) {
	var req model.VerifyOTPRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ts, err := h.otpService.Verify(c.Request.Context(), req.UserID, req.TestID, req.OTP)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidOTP):
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidOTP)
		case errors.Is(err, service.ErrOTPExpired):
			response.Fail(c, http.StatusUnauthorized, response.ErrOTPExpired)
		case errors.Is(err, service.ErrTooManyAttempts):
			response.Fail(c, http.StatusTooManyRequests, response.ErrTooManyAttempts)
		case errors.Is(err, service.ErrInvalidIdentity):
			response.Fail(c, http.StatusNotFound, response.ErrInvalidIdentity)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	test, err := h.testRepo.GetByID(c.Request.Context(), req.TestID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	token, err := h.authService.GenerateExamToken(c.Request.Context(), ts, test.InstituteID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, model.VerifyOTPResponse{
		Token:       token,
		TestStudent: *ts,
		Test:        *test,
		ServerTime:  time.Now().UTC(),
	})
}

// StartTest godoc
// POST /api/v1/exam/start
// Creates or resumes the attempt and returns the paper with any
// previously autosaved answers.
func (h *ExamHandler) StartTest(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, err := uuid.Parse(claims.TestID)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}

	result, err := h.sessionService.Start(c.Request.Context(), claims.TestStudentID, testID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTestNotAvailable):
			response.Fail(c, http.StatusConflict, response.ErrTestNotAvailable)
		case errors.Is(err, service.ErrAlreadyFinalized):
			response.Fail(c, http.StatusConflict, response.ErrResponseFinalized)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, result)
}

// SaveAnswer godoc
// POST /api/v1/exam/answers
// Autosaves one answer. Last write wins per question.
func (h *ExamHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.ownedInProgress(c, req.TestResponseID, claims.TestStudentID)
	if err != nil {
		return
	}

	if err := h.sessionService.SaveAnswer(c.Request.Context(), &req); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"test_response_id": resp.ID, "saved": true})
}

// LogViolation godoc
// POST /api/v1/exam/violations
// Records a violation and returns the server's threshold decision. When
// the limit is breached the attempt is auto-submitted and the admin room
// is alerted in the same request.
func (h *ExamHandler) LogViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.LogViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if !req.ViolationType.Valid() {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"violation_type": "unknown violation type",
		})
		return
	}

	resp, err := h.ownedInProgress(c, req.TestResponseID, claims.TestStudentID)
	if err != nil {
		return
	}

	outcome, err := h.violationService.Record(c.Request.Context(), resp, req.ViolationType, req.Metadata)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if outcome.AutoSubmitted {
		if instituteID, err := uuid.Parse(claims.InstituteID); err == nil {
			h.hub.Broadcast(instituteID, proctoring.EventAutoSubmitAlert, proctoring.AutoSubmitAlertPayload{
				TestResponseID: resp.ID,
				SubmitType:     string(model.SubmitTypeAutoViolation),
				Reason:         string(req.ViolationType),
			})
		}
	}

	response.Success(c, http.StatusOK, outcome)
}

// UploadSnapshot godoc
// POST /api/v1/exam/snapshots
// Stores a webcam snapshot and relays its URL to the monitoring room.
func (h *ExamHandler) UploadSnapshot(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.UploadSnapshotRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.ownedInProgress(c, req.TestResponseID, claims.TestStudentID)
	if err != nil {
		return
	}

	url, err := h.snapshotService.Ingest(c.Request.Context(), resp.ID, req.ImageData)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSnapshotInvalid):
			response.Fail(c, http.StatusBadRequest, response.ErrSnapshotInvalid)
		case errors.Is(err, service.ErrSnapshotTooLarge):
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrSnapshotTooLarge)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	if instituteID, err := uuid.Parse(claims.InstituteID); err == nil {
		h.hub.Broadcast(instituteID, proctoring.EventStudentSnapshot, proctoring.StudentSnapshotPayload{
			TestResponseID: resp.ID,
			ImageURL:       url,
			CapturedAt:     time.Now().Unix(),
		})
	}

	response.Success(c, http.StatusCreated, gin.H{"image_url": url})
}

// SubmitTest godoc
// POST /api/v1/exam/submit
// Finalizes the attempt. Idempotent: repeat submissions return the
// already-final response with submitted=false.
func (h *ExamHandler) SubmitTest(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.sessionService.GetOwnedResponse(c.Request.Context(), req.TestResponseID, claims.TestStudentID)
	if err != nil {
		h.failOwnership(c, err)
		return
	}

	final, submitted, err := h.sessionService.Finalize(c.Request.Context(), resp.ID, req.SubmitType)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrSubmissionFailed)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"test_response": final,
		"submitted":     submitted,
	})
}

// ownedInProgress fetches an owned response and rejects finalized
// attempts. Writes the error response itself; callers just return on error.
func (h *ExamHandler) ownedInProgress(c *gin.Context, responseID uuid.UUID, testStudentID int) (*model.TestResponse, error) {
	resp, err := h.sessionService.GetOwnedResponse(c.Request.Context(), responseID, testStudentID)
	if err != nil {
		h.failOwnership(c, err)
		return nil, err
	}
	if resp.Status != model.ResponseStatusInProgress {
		response.Fail(c, http.StatusConflict, response.ErrResponseFinalized)
		return nil, service.ErrAlreadyFinalized
	}
	return resp, nil
}

func (h *ExamHandler) failOwnership(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrResponseNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrNotOwnedResponse):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
