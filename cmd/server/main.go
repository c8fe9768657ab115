package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/provexa/proctor-backend/internal/config"
	"github.com/provexa/proctor-backend/internal/database"
	"github.com/provexa/proctor-backend/internal/handler"
	"github.com/provexa/proctor-backend/internal/logger"
	"github.com/provexa/proctor-backend/internal/model"
	"github.com/provexa/proctor-backend/internal/proctoring"
	"github.com/provexa/proctor-backend/internal/repository"
	"github.com/provexa/proctor-backend/internal/router"
	"github.com/provexa/proctor-backend/internal/service"
	"github.com/provexa/proctor-backend/internal/storage"
	"github.com/provexa/proctor-backend/internal/validator"
	"github.com/provexa/proctor-backend/internal/worker"
	"github.com/rs/zerolog"
)

// sessionControl adapts the session service to the hub's terminate hook.
type sessionControl struct {
	sessions *service.SessionService
}

func (s *sessionControl) Terminate(ctx context.Context, responseID uuid.UUID, reason string) error {
	_, _, err := s.sessions.Finalize(ctx, responseID, model.SubmitTypeTerminated)
	return err
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Proctor Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Snapshot Store ─────────────────────────────────────
	var snapshotStore storage.SnapshotStore
	if cfg.S3Bucket != "" {
		snapshotStore, err = storage.NewS3Store(ctx, storage.S3Config{
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 snapshot store")
		}
	} else {
		snapshotStore, err = storage.NewLocalStore(cfg.UploadDir, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize local snapshot store")
		}
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	testRepo := repository.NewTestRepository(pool)
	rosterRepo := repository.NewRosterRepository(pool)
	responseRepo := repository.NewResponseRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)
	adminRepo := repository.NewAdminRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	otpService := service.NewOTPService(cfg, rdb, rosterRepo, log)
	sessionService := service.NewSessionService(responseRepo, testRepo, authService, rdb, log)
	violationService := service.NewViolationService(cfg, rdb, testRepo, sessionService, log)
	snapshotService := service.NewSnapshotService(cfg, rdb, snapshotStore, log)
	monitorService := service.NewMonitorService(monitorRepo, rdb)

	// ─── Initialize Proctoring Hub ────────────────────────────────────
	pubsub := proctoring.NewRedisPubSub(rdb, log)
	hub := proctoring.NewHub(&sessionControl{sessions: sessionService}, pubsub, pubsub, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Exam:  handler.NewExamHandler(otpService, authService, sessionService, violationService, snapshotService, testRepo, hub),
		Admin: handler.NewAdminHandler(adminRepo, testRepo, authService, monitorService),
		WS:    handler.NewWSHandler(hub, rosterRepo, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	violationWorker := worker.NewViolationWorker(pool, rdb, log)
	answerWorker := worker.NewAnswerWorker(pool, rdb, log)
	snapshotWorker := worker.NewSnapshotWorker(pool, rdb, log)

	go violationWorker.Start(workerCtx)
	go answerWorker.Start(workerCtx)
	go snapshotWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
