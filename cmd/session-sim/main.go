package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/provexa/proctor-backend/internal/config"
	"github.com/provexa/proctor-backend/internal/database"
	"github.com/provexa/proctor-backend/pkg/proctor"
	"github.com/provexa/proctor-backend/pkg/proctor/channel"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Simulates a cohort of students plus one admin aggregator against a
// running backend. Students answer, misbehave, and submit; the admin
// view is printed periodically so the realtime pipeline can be eyeballed
// end to end. OTPs are read straight from Redis, so the sim needs the
// same REDIS_ADDR the server uses.
func main() {
	var (
		serverURL  = flag.String("server", "http://localhost:8080", "backend base URL")
		wsURL      = flag.String("ws", "ws://localhost:8080/ws/v1/proctoring", "websocket endpoint")
		testIDStr  = flag.String("test", "", "test UUID (required)")
		students   = flag.Int("students", 5, "number of simulated students")
		firstUser  = flag.Int("first-user", 1001, "first roster user_id")
		adminEmail = flag.String("admin-email", "admin@demo.test", "admin email")
		adminPass  = flag.String("admin-password", "demo-admin-pass", "admin password")
		runFor     = flag.Duration("run", 2*time.Minute, "time before students submit")
		misbehave  = flag.Bool("misbehave", true, "report random tab-switch violations")
	)
	flag.Parse()

	testID, err := uuid.Parse(*testIDStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: -test must be a valid UUID")
		os.Exit(1)
	}

	cfg := config.Load()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), *runFor+3*time.Minute)
	defer cancel()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	api := proctor.NewAPI(*serverURL, nil)

	// ─── Admin side ────────────────────────────────────────────────────
	login, err := api.AdminLogin(ctx, *adminEmail, *adminPass)
	if err != nil {
		log.Fatal().Err(err).Msg("Admin login failed")
	}

	agg := proctor.NewAggregator(proctor.AggregatorConfig{
		API:    api,
		Token:  login.Token,
		TestID: testID,
		Logger: log,
	})
	adminRT := channel.New(channel.Config{URL: *wsURL, Token: login.Token, Logger: log})
	if err := agg.Bind(adminRT); err != nil {
		log.Fatal().Err(err).Msg("Admin channel connect failed")
	}
	defer agg.Close()
	if err := agg.Resync(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial roster resync failed")
	}

	go printLoop(ctx, agg)

	// ─── Student side ──────────────────────────────────────────────────
	var wg sync.WaitGroup
	for i := 0; i < *students; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()
			if err := runStudent(ctx, api, rdb, log, *wsURL, testID, userID, *runFor, *misbehave); err != nil {
				log.Error().Err(err).Int("user_id", userID).Msg("Student run failed")
			}
		}(*firstUser + i)
		time.Sleep(200 * time.Millisecond) // stagger joins
	}

	wg.Wait()
	log.Info().Msg("All students finished")
	printState(agg)
}

func runStudent(
	ctx context.Context,
	api *proctor.API,
	rdb *redis.Client,
	log zerolog.Logger,
	wsURL string,
	testID uuid.UUID,
	userID int,
	runFor time.Duration,
	misbehave bool,
) error {
	slog := log.With().Int("user_id", userID).Logger()

	cam := &syntheticCamera{}
	session := proctor.NewSession(proctor.SessionConfig{
		API:   api,
		Store: proctor.NewMemoryStore(),
		NewRealtime: func(token string) proctor.Realtime {
			return channel.New(channel.Config{URL: wsURL, Token: token, Logger: slog})
		},
		Camera: cam,
		Logger: slog,
		OnWarning: func(w proctor.ViolationWarning) {
			slog.Info().Int("count", w.Count).Int("limit", w.Limit).Msg("Warned")
		},
		OnAdminMessage: func(msg string) {
			slog.Info().Str("message", msg).Msg("Admin says")
		},
	})

	if err := session.RequestOTP(ctx, userID, testID); err != nil {
		return fmt.Errorf("request otp: %w", err)
	}

	otp, err := rdb.Get(ctx, config.CacheKey.ExamOTPKey(userID, testID.String())).Result()
	if err != nil {
		return fmt.Errorf("peek otp: %w", err)
	}

	if err := session.VerifyOTP(ctx, userID, testID, otp); err != nil {
		return fmt.Errorf("verify otp: %w", err)
	}
	if err := session.AcknowledgeInstructions(); err != nil {
		return err
	}
	if err := session.Begin(ctx); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	slog.Info().Int("remaining_s", session.RemainingSeconds()).Msg("Exam started")

	questions := session.Questions()
	deadline := time.After(runFor)
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	answered := 0
	options := []string{"A", "B", "C", "D"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return session.Submit()
		case <-ticker.C:
			if session.State() != proctor.StateInProgress {
				slog.Info().Str("state", string(session.State())).Msg("Attempt ended early")
				return nil
			}
			if answered < len(questions) {
				q := questions[answered]
				opt := options[rand.Intn(len(options))]
				if err := session.SelectAnswer(ctx, q.ID, opt, 3); err != nil {
					slog.Warn().Err(err).Msg("Answer save failed")
				}
				answered++
			}
			if misbehave && rand.Intn(10) == 0 {
				session.ReportViolation(proctor.ViolationTabSwitch)
			}
		}
	}
}

func printLoop(ctx context.Context, agg *proctor.Aggregator) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printState(agg)
		}
	}
}

func printState(agg *proctor.Aggregator) {
	students := agg.Students()
	fmt.Printf("\n=== Live roster (%d active) ===\n", len(students))
	for _, s := range students {
		fmt.Printf("  %-20s violations=%d snapshots=%d\n", s.StudentName, s.ViolationCount, len(s.Snapshots))
	}
	if violations := agg.Violations(); len(violations) > 0 {
		recent := violations
		if len(recent) > 5 {
			recent = recent[:5]
		}
		fmt.Println("  Recent violations:")
		for _, v := range recent {
			fmt.Printf("    %s %s (%s)\n", v.At.Format("15:04:05"), v.StudentName, v.ViolationType)
		}
	}
	if subs := agg.AutoSubmits(); len(subs) > 0 {
		fmt.Printf("  Auto-submits: %d\n", len(subs))
	}
}

// syntheticCamera produces a tiny fake JPEG so the snapshot path has
// something to upload.
type syntheticCamera struct {
	mu      sync.Mutex
	stopped bool
}

var jpegStub = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xFF, 0xD9}

func (c *syntheticCamera) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, fmt.Errorf("camera stopped")
	}
	frame := make([]byte, 0, len(jpegStub)+32)
	frame = append(frame, jpegStub...)
	frame = append(frame, []byte(strings.Repeat("x", 32))...)
	return frame, nil
}

func (c *syntheticCamera) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.stopped
}

func (c *syntheticCamera) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}
