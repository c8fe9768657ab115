package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/provexa/proctor-backend/internal/config"
	"github.com/provexa/proctor-backend/internal/model"
	"github.com/provexa/proctor-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ViolationService is the sole authority for violation threshold
// decisions. Clients report every signal; the counter and the limit
// comparison live here. Duplicate reports for the same underlying
// failure are accepted and counted; clients are expected to
// consolidate, not the server.
type ViolationService struct {
	cfg            *config.Config
	rdb            *redis.Client
	testRepo       *repository.TestRepository
	sessionService *SessionService
	log            zerolog.Logger
}

// NewViolationService creates a new ViolationService.
func NewViolationService(
	cfg *config.Config,
	rdb *redis.Client,
	testRepo *repository.TestRepository,
	sessionService *SessionService,
	log zerolog.Logger,
) *ViolationService {
	return &ViolationService{
		cfg:            cfg,
		rdb:            rdb,
		testRepo:       testRepo,
		sessionService: sessionService,
		log:            log.With().Str("component", "violation_service").Logger(),
	}
}

// Record logs one violation and returns the authoritative outcome:
// a warning while the count is within the limit, or auto_submitted once
// the limit is breached (the attempt is finalized as auto-violation in
// the same call).
func (s *ViolationService) Record(ctx context.Context, resp *model.TestResponse, vType model.ViolationType, metadata json.RawMessage) (*model.ViolationOutcome, error) {
	// Queue for persistence regardless of outcome.
	payload, _ := json.Marshal(map[string]interface{}{
		"test_response_id": resp.ID.String(),
		"violation_type":   string(vType),
		"metadata":         metadata,
		"timestamp":        time.Now().Unix(),
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, payload).Err(); err != nil {
		s.log.Error().Err(err).Msg("Failed to queue violation for persistence")
	}

	countKey := config.CacheKey.ResponseViolationsKey(resp.ID.String())
	count, err := s.rdb.Incr(ctx, countKey).Result()
	if err != nil {
		return nil, fmt.Errorf("increment violation count: %w", err)
	}

	limit, err := s.violationLimit(ctx, resp.TestID)
	if err != nil {
		s.log.Warn().Err(err).Str("test_id", resp.TestID.String()).Msg("Violation limit lookup failed, using default")
		limit = s.cfg.DefaultViolationLimit
	}

	if int(count) > limit {
		if _, _, err := s.sessionService.Finalize(ctx, resp.ID, model.SubmitTypeAutoViolation); err != nil {
			return nil, fmt.Errorf("auto-submit on violation breach: %w", err)
		}
		s.log.Info().
			Str("response_id", resp.ID.String()).
			Str("type", string(vType)).
			Int64("count", count).
			Int("limit", limit).
			Msg("Violation limit breached, attempt auto-submitted")
		return &model.ViolationOutcome{AutoSubmitted: true}, nil
	}

	return &model.ViolationOutcome{
		Warning: &model.ViolationWarning{
			Message: fmt.Sprintf("Violation recorded (%d of %d allowed).", count, limit),
			Count:   int(count),
			Limit:   limit,
		},
	}, nil
}

// violationLimit returns the test's limit, preferring the Redis cache
// populated on session start.
func (s *ViolationService) violationLimit(ctx context.Context, testID uuid.UUID) (int, error) {
	limitKey := config.CacheKey.TestViolationLimitKey(testID.String())
	limit, err := s.rdb.Get(ctx, limitKey).Int()
	if err == nil {
		return limit, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, err
	}

	// Cache miss: fall back to PostgreSQL and self-heal.
	test, err := s.testRepo.GetByID(ctx, testID)
	if err != nil {
		return 0, err
	}
	_ = s.rdb.Set(ctx, limitKey, test.ViolationLimit, 0).Err()
	return test.ViolationLimit, nil
}
