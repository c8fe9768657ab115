package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provexa/proctor-backend/internal/model"
)

// ResponseRepository handles test response (attempt) data access.
type ResponseRepository struct {
	pool *pgxpool.Pool
}

// NewResponseRepository creates a new ResponseRepository.
func NewResponseRepository(pool *pgxpool.Pool) *ResponseRepository {
	return &ResponseRepository{pool: pool}
}

// GetByID retrieves a response by primary key.
func (r *ResponseRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.TestResponse, error) {
	resp := &model.TestResponse{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, test_id, test_student_id, status, started_at, submitted_at, submit_type, violation_count
		 FROM test_responses
		 WHERE id = $1`, id,
	).Scan(&resp.ID, &resp.TestID, &resp.TestStudentID, &resp.Status,
		&resp.StartedAt, &resp.SubmittedAt, &resp.SubmitType, &resp.ViolationCount)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetByTestStudent retrieves the response for a roster entry, if any.
func (r *ResponseRepository) GetByTestStudent(ctx context.Context, testStudentID int) (*model.TestResponse, error) {
	resp := &model.TestResponse{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, test_id, test_student_id, status, started_at, submitted_at, submit_type, violation_count
		 FROM test_responses
		 WHERE test_student_id = $1`, testStudentID,
	).Scan(&resp.ID, &resp.TestID, &resp.TestStudentID, &resp.Status,
		&resp.StartedAt, &resp.SubmittedAt, &resp.SubmitType, &resp.ViolationCount)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Create inserts a new IN_PROGRESS response. The unique constraint on
// test_student_id makes concurrent starts collapse to one row; callers
// should fall back to GetByTestStudent on pgx.ErrNoRows.
func (r *ResponseRepository) Create(ctx context.Context, resp *model.TestResponse) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO test_responses (test_id, test_student_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (test_student_id) DO NOTHING
		 RETURNING id, started_at`,
		resp.TestID, resp.TestStudentID, model.ResponseStatusInProgress,
	).Scan(&resp.ID, &resp.StartedAt)
}

// Finalize transitions a response out of IN_PROGRESS exactly once.
// Returns pgx.ErrNoRows when the response was already finalized, which
// callers treat as the idempotent no-op case.
func (r *ResponseRepository) Finalize(ctx context.Context, id uuid.UUID, status model.ResponseStatus, submitType model.SubmitType, violationCount int) (*model.TestResponse, error) {
	resp := &model.TestResponse{}
	now := time.Now()
	err := r.pool.QueryRow(ctx,
		`UPDATE test_responses
		 SET status = $1, submit_type = $2, submitted_at = $3, violation_count = $4
		 WHERE id = $5 AND status = $6
		 RETURNING id, test_id, test_student_id, status, started_at, submitted_at, submit_type, violation_count`,
		status, submitType, now, violationCount, id, model.ResponseStatusInProgress,
	).Scan(&resp.ID, &resp.TestID, &resp.TestStudentID, &resp.Status,
		&resp.StartedAt, &resp.SubmittedAt, &resp.SubmitType, &resp.ViolationCount)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// IsAlreadyFinalized reports whether err is the no-rows result of a
// Finalize call that lost the race.
func IsAlreadyFinalized(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
