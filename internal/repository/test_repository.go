package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provexa/proctor-backend/internal/model"
)

// TestRepository handles test and question data access.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// GetByID retrieves a single test.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT t.id, t.institute_id, t.title, t.duration_minutes, t.scheduled_start,
		        t.violation_limit, t.status, t.created_at, t.updated_at,
		        (SELECT COUNT(*) FROM questions q WHERE q.test_id = t.id)
		 FROM tests t
		 WHERE t.id = $1`, id,
	).Scan(&t.ID, &t.InstituteID, &t.Title, &t.DurationMinutes, &t.ScheduledStart,
		&t.ViolationLimit, &t.Status, &t.CreatedAt, &t.UpdatedAt, &t.QuestionCount)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListQuestions returns a test's questions in delivery order.
// Correct answers are never selected here.
func (r *TestRepository) ListQuestions(ctx context.Context, testID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, question_text, options, order_num
		 FROM questions
		 WHERE test_id = $1
		 ORDER BY order_num ASC`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.TestID, &q.QuestionText, &q.Options, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
