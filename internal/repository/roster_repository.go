package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provexa/proctor-backend/internal/model"
)

// RosterRepository handles test roster (test_students) data access.
type RosterRepository struct {
	pool *pgxpool.Pool
}

// NewRosterRepository creates a new RosterRepository.
func NewRosterRepository(pool *pgxpool.Pool) *RosterRepository {
	return &RosterRepository{pool: pool}
}

// GetByUserAndTest retrieves the roster entry for a user/test pair.
// The OTP flow treats a missing row as an invalid identity.
func (r *RosterRepository) GetByUserAndTest(ctx context.Context, userID int, testID uuid.UUID) (*model.TestStudent, error) {
	ts := &model.TestStudent{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, test_id, user_id, name, COALESCE(email, ''), created_at
		 FROM test_students
		 WHERE user_id = $1 AND test_id = $2`, userID, testID,
	).Scan(&ts.ID, &ts.TestID, &ts.UserID, &ts.Name, &ts.Email, &ts.CreatedAt)
	if err != nil {
		return nil, err
	}
	return ts, nil
}

// GetByID retrieves a roster entry by primary key.
func (r *RosterRepository) GetByID(ctx context.Context, id int) (*model.TestStudent, error) {
	ts := &model.TestStudent{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, test_id, user_id, name, COALESCE(email, ''), created_at
		 FROM test_students
		 WHERE id = $1`, id,
	).Scan(&ts.ID, &ts.TestID, &ts.UserID, &ts.Name, &ts.Email, &ts.CreatedAt)
	if err != nil {
		return nil, err
	}
	return ts, nil
}
