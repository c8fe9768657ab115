package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provexa/proctor-backend/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ViolationWorker consumes the violation persist queue and batch-writes
// rows to PostgreSQL. The Redis counter remains the authority during the
// exam; this worker only makes the record durable.
type ViolationWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewViolationWorker creates a new ViolationWorker.
func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "violation_worker").Logger(),
	}
}

type violationPayload struct {
	TestResponseID string          `json:"test_response_id"`
	ViolationType  string          `json:"violation_type"`
	Metadata       json.RawMessage `json:"metadata"`
	Timestamp      int64           `json:"timestamp"`
}

// Start begins the worker loop. Call in a goroutine.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]*violationPayload, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check flush conditions (time or size)
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Check context (graceful shutdown)
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis. BLPop blocks for 1 second, returns
		// immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty, loop back to check flush timer
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var payload violationPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			// Malformed JSON cannot be retried. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		buffer = append(buffer, &payload)
	}
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []*violationPayload) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []*violationPayload) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, p := range batch {
		responseID, err := uuid.Parse(p.TestResponseID)
		if err != nil {
			// Trigger fallback, which handles the bad UUID individually.
			return err
		}
		rows = append(rows, []interface{}{
			responseID, p.ViolationType, []byte(p.Metadata), time.Unix(p.Timestamp, 0),
		})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"violations"},
		[]string{"test_response_id", "violation_type", "metadata", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []*violationPayload) {
	requeueList := make([]*violationPayload, 0)

	for _, p := range batch {
		responseID, err := uuid.Parse(p.TestResponseID)
		if err != nil {
			w.log.Error().Str("test_response_id", p.TestResponseID).Msg("Dropping violation with invalid UUID")
			continue
		}

		_, err = w.pool.Exec(ctx,
			`INSERT INTO violations (test_response_id, violation_type, metadata, recorded_at)
             VALUES ($1, $2, $3::jsonb, $4)`,
			responseID, p.ViolationType, []byte(p.Metadata), time.Unix(p.Timestamp, 0),
		)
		if err != nil {
			w.log.Error().Err(err).Str("test_response_id", p.TestResponseID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, p)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []*violationPayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range items {
		data, _ := json.Marshal(p)
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
	} else {
		w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
		// Avoid thrashing if the DB is down hard.
		time.Sleep(2 * time.Second)
	}
}

func (w *ViolationWorker) shutdown(buffer []*violationPayload) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
