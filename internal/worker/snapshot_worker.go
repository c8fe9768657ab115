package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provexa/proctor-backend/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SnapshotWorker consumes the snapshot persist queue and inserts
// snapshot metadata rows. The image bytes are already in the store by
// the time the metadata reaches this queue.
type SnapshotWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewSnapshotWorker creates a new SnapshotWorker.
func NewSnapshotWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *SnapshotWorker {
	return &SnapshotWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "snapshot_worker").Logger(),
	}
}

type snapshotPayload struct {
	TestResponseID string `json:"test_response_id"`
	ImageURL       string `json:"image_url"`
	CapturedAt     int64  `json:"captured_at"`
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *SnapshotWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *SnapshotWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistSnapshotsQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var payload snapshotPayload
	if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.persistSnapshot(ctx, &payload); err != nil {
		w.log.Error().Err(err).
			Str("test_response_id", payload.TestResponseID).
			Msg("Persist error, retrying in 5s")
		w.rdb.RPush(ctx, config.WorkerKey.PersistSnapshotsQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *SnapshotWorker) persistSnapshot(ctx context.Context, p *snapshotPayload) error {
	responseID, err := uuid.Parse(p.TestResponseID)
	if err != nil {
		return err
	}

	_, err = w.pool.Exec(ctx,
		`INSERT INTO snapshots (test_response_id, image_url, captured_at)
		 VALUES ($1, $2, $3)`,
		responseID, p.ImageURL, time.Unix(p.CapturedAt, 0),
	)
	return err
}

// drain processes all remaining items in the queue before shutdown.
func (w *SnapshotWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistSnapshotsQueue).Result()
		if err != nil {
			break
		}

		var payload snapshotPayload
		if err := json.Unmarshal([]byte(result), &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.persistSnapshot(ctx, &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistSnapshotsQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
