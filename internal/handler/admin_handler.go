package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/provexa/proctor-backend/internal/middleware"
	"github.com/provexa/proctor-backend/internal/model"
	"github.com/provexa/proctor-backend/internal/repository"
	"github.com/provexa/proctor-backend/internal/response"
	"github.com/provexa/proctor-backend/internal/service"
	"github.com/provexa/proctor-backend/internal/validator"
)

// AdminHandler handles admin authentication and monitoring endpoints.
type AdminHandler struct {
	adminRepo      *repository.AdminRepository
	testRepo       *repository.TestRepository
	authService    *service.AuthService
	monitorService *service.MonitorService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	adminRepo *repository.AdminRepository,
	testRepo *repository.TestRepository,
	authService *service.AuthService,
	monitorService *service.MonitorService,
) *AdminHandler {
	return &AdminHandler{
		adminRepo:      adminRepo,
		testRepo:       testRepo,
		authService:    authService,
		monitorService: monitorService,
	}
}

// Login godoc
// POST /api/v1/auth/admin/login
// Authenticates an admin and returns a JWT scoped to their institute.
func (h *AdminHandler) Login(c *gin.Context) {
	var req model.AdminLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	admin, err := h.adminRepo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if err := h.authService.CheckPassword(admin.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateAdminToken(admin)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"admin": admin,
	})
}

// GetLiveRoster godoc
// GET /api/v1/admin/tests/:test_id/live
// Returns the authoritative IN_PROGRESS roster with violation counts.
// Admin dashboards call this after a realtime reconnect to resync state
// lost during the disconnect window.
func (h *AdminHandler) GetLiveRoster(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Institute scoping: admins only see their own tests.
	test, err := h.testRepo.GetByID(c.Request.Context(), testID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if test.InstituteID.String() != claims.InstituteID {
		response.Fail(c, http.StatusForbidden, response.ErrWrongInstitute)
		return
	}

	sessions, err := h.monitorService.GetLiveRoster(c.Request.Context(), testID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"test":     test,
		"sessions": sessions,
	})
}
