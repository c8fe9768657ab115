package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/provexa/proctor-backend/internal/config"
	"github.com/provexa/proctor-backend/internal/repository"
	"github.com/redis/go-redis/v9"
)

// MonitorService serves the authoritative live roster for a test. Admin
// dashboards call this after a realtime reconnect to catch up on events
// missed during the disconnect window; the event stream remains the
// low-latency path.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	rdb         *redis.Client
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository, rdb *redis.Client) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo, rdb: rdb}
}

// GetLiveRoster returns all IN_PROGRESS attempts with violation counts.
// Persisted counts and the live Redis counters are fetched concurrently;
// the live counter wins when present since the persist queue may lag.
func (s *MonitorService) GetLiveRoster(ctx context.Context, testID uuid.UUID) ([]repository.LiveSession, error) {
	var (
		sessions   []repository.LiveSession
		sessionErr error
		counts     map[uuid.UUID]int64
		countErr   error
		wg         sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sessions, sessionErr = s.monitorRepo.ListInProgress(ctx, testID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		counts, countErr = s.monitorRepo.GetViolationCounts(ctx, testID)
	}()

	wg.Wait()

	if sessionErr != nil {
		return nil, sessionErr
	}

	// Persisted counts are best-effort; the join query already carries a
	// per-row count, this pass only fills from the batching lag.
	if countErr == nil && counts != nil {
		for i := range sessions {
			if c, ok := counts[sessions[i].TestResponseID]; ok && c > sessions[i].ViolationCount {
				sessions[i].ViolationCount = c
			}
		}
	}

	for i := range sessions {
		liveKey := config.CacheKey.ResponseViolationsKey(sessions[i].TestResponseID.String())
		live, err := s.rdb.Get(ctx, liveKey).Int64()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				continue
			}
			continue
		}
		if live > sessions[i].ViolationCount {
			sessions[i].ViolationCount = live
		}
	}

	return sessions, nil
}
