package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/provexa/proctor-backend/internal/config"
	"github.com/provexa/proctor-backend/internal/handler"
	"github.com/provexa/proctor-backend/internal/middleware"
	"github.com/provexa/proctor-backend/internal/response"
	"github.com/provexa/proctor-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam  *handler.ExamHandler
	Admin *handler.AdminHandler
	WS    *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Serve stored snapshots statically with aggressive caching (1 year);
	// snapshot keys are content-unique so stale caches are impossible.
	uploadsGroup := router.Group("/uploads")
	uploadsGroup.Use(middleware.CacheControl(31536000))
	{
		uploadsGroup.Static("/", cfg.UploadDir)
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for OTP issuance (10 requests per minute per IP).
	otpLimiter := middleware.NewRateLimiter(10, time.Minute)

	// ─── 1. Auth Group (Public) ────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/admin/login", handlers.Admin.Login)
	}

	// ─── 2. Exam Group ─────────────────────────────────────────────────
	examAPI := router.Group("/api/v1/exam")
	{
		// OTP endpoints are the public entry to the flow.
		examAPI.POST("/otp/request", otpLimiter.Middleware(), handlers.Exam.RequestOTP)
		examAPI.POST("/otp/verify", otpLimiter.Middleware(), handlers.Exam.VerifyOTP)

		// Submit skips the session-active check: finalizing clears the
		// session registration, and a retried submit must still land on
		// the idempotent path instead of bouncing with SESSION_ENDED.
		examAPI.POST("/submit", middleware.RequireExamJWT(authService), handlers.Exam.SubmitTest)

		// Everything else requires a live exam session token.
		session := examAPI.Group("")
		session.Use(
			middleware.RequireExamJWT(authService),
			middleware.CheckExamSessionActive(authService),
		)
		{
			session.POST("/start", handlers.Exam.StartTest)
			session.POST("/answers", handlers.Exam.SaveAnswer)
			session.POST("/violations", handlers.Exam.LogViolation)
			session.POST("/snapshots", handlers.Exam.UploadSnapshot)
		}
	}

	// ─── 3. WebSocket Group (token via query param) ────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/proctoring", handlers.WS.ProctoringStream)
	}

	// ─── 4. Admin Group ────────────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/tests/:test_id/live", handlers.Admin.GetLiveRoster)
	}

	return router
}
