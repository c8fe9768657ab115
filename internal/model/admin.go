package model

import (
	"time"

	"github.com/google/uuid"
)

// Admin represents a proctoring admin scoped to one institute.
type Admin struct {
	ID           int       `json:"id"`
	InstituteID  uuid.UUID `json:"institute_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AdminLoginRequest is the payload for admin authentication.
type AdminLoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}
