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

// AnswerWorker consumes the answer persist queue and UPSERTs autosaved
// answers to PostgreSQL.
type AnswerWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	return &AnswerWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "answer_worker").Logger(),
	}
}

type answerPayload struct {
	TestResponseID string `json:"test_response_id"`
	QuestionID     string `json:"question_id"`
	SelectedOption string `json:"selected_option"`
	TimeSpent      int    `json:"time_spent"`
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AnswerWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var payload answerPayload
	if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.persistAnswer(ctx, &payload); err != nil {
		w.log.Error().Err(err).
			Str("test_response_id", payload.TestResponseID).
			Str("question_id", payload.QuestionID).
			Msg("Persist error, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *AnswerWorker) persistAnswer(ctx context.Context, p *answerPayload) error {
	responseID, err := uuid.Parse(p.TestResponseID)
	if err != nil {
		return err
	}

	questionID, err := uuid.Parse(p.QuestionID)
	if err != nil {
		return err
	}

	// UPSERT: last write wins per question.
	_, err = w.pool.Exec(ctx,
		`INSERT INTO answers (test_response_id, question_id, selected_option, time_spent)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (test_response_id, question_id) DO UPDATE
		 SET selected_option = EXCLUDED.selected_option,
		     time_spent = EXCLUDED.time_spent,
		     updated_at = NOW()`,
		responseID, questionID, p.SelectedOption, p.TimeSpent,
	)
	return err
}

// drain processes all remaining items in the queue before shutdown.
func (w *AnswerWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}

		var payload answerPayload
		if err := json.Unmarshal([]byte(result), &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.persistAnswer(ctx, &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
