package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provexa/proctor-backend/internal/model"
)

// AdminRepository handles admin data access.
type AdminRepository struct {
	pool *pgxpool.Pool
}

// NewAdminRepository creates a new AdminRepository.
func NewAdminRepository(pool *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{pool: pool}
}

// GetByEmail retrieves an admin by email.
func (r *AdminRepository) GetByEmail(ctx context.Context, email string) (*model.Admin, error) {
	a := &model.Admin{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, institute_id, email, name, password_hash, created_at, updated_at
		 FROM admins
		 WHERE email = $1`, email,
	).Scan(&a.ID, &a.InstituteID, &a.Email, &a.Name, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an admin by primary key.
func (r *AdminRepository) GetByID(ctx context.Context, id int) (*model.Admin, error) {
	a := &model.Admin{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, institute_id, email, name, password_hash, created_at, updated_at
		 FROM admins
		 WHERE id = $1`, id,
	).Scan(&a.ID, &a.InstituteID, &a.Email, &a.Name, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new admin and returns its ID.
func (r *AdminRepository) Create(ctx context.Context, a *model.Admin) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO admins (institute_id, email, name, password_hash)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		a.InstituteID, a.Email, a.Name, a.PasswordHash,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}
