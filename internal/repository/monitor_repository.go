package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provexa/proctor-backend/internal/model"
)

// LiveSession is one row of the authoritative active roster for a test,
// served to admin dashboards as a reconciliation source after realtime
// reconnects.
type LiveSession struct {
	TestResponseID uuid.UUID            `json:"test_response_id"`
	TestStudentID  int                  `json:"test_student_id"`
	UserID         int                  `json:"user_id"`
	StudentName    string               `json:"student_name"`
	Status         model.ResponseStatus `json:"status"`
	StartedAt      time.Time            `json:"started_at"`
	ViolationCount int64                `json:"violation_count"`
}

// MonitorRepository provides data access for live exam monitoring.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// ListInProgress returns all IN_PROGRESS attempts for a test with their
// persisted violation counts.
func (r *MonitorRepository) ListInProgress(ctx context.Context, testID uuid.UUID) ([]LiveSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT tr.id, tr.test_student_id, ts.user_id, ts.name, tr.status, tr.started_at,
		        (SELECT COUNT(*) FROM violations v WHERE v.test_response_id = tr.id)
		 FROM test_responses tr
		 JOIN test_students ts ON tr.test_student_id = ts.id
		 WHERE tr.test_id = $1 AND tr.status = 'IN_PROGRESS'
		 ORDER BY tr.started_at ASC`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []LiveSession
	for rows.Next() {
		var s LiveSession
		if err := rows.Scan(&s.TestResponseID, &s.TestStudentID, &s.UserID, &s.StudentName,
			&s.Status, &s.StartedAt, &s.ViolationCount); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// GetViolationCounts returns the number of persisted violations per
// response for the given test.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, testID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT v.test_response_id, COUNT(*)
		 FROM violations v
		 JOIN test_responses tr ON v.test_response_id = tr.id
		 WHERE tr.test_id = $1
		 GROUP BY v.test_response_id`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id uuid.UUID
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}
