package model

import (
	"time"

	"github.com/google/uuid"
)

// TestStudent is a roster entry: one user admitted to one test.
// The OTP flow authenticates against this pair, not against a general
// user account.
type TestStudent struct {
	ID        int       `json:"id"`
	TestID    uuid.UUID `json:"test_id"`
	UserID    int       `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestOTPRequest is the payload for requesting an exam access OTP.
type RequestOTPRequest struct {
	UserID int       `json:"user_id" binding:"required"`
	TestID uuid.UUID `json:"test_id" binding:"required"`
}

// VerifyOTPRequest is the payload for redeeming an OTP.
type VerifyOTPRequest struct {
	UserID int       `json:"user_id" binding:"required"`
	TestID uuid.UUID `json:"test_id" binding:"required"`
	OTP    string    `json:"otp" binding:"required,len=6,numeric"`
}

// VerifyOTPResponse is returned after successful OTP verification.
// ServerTime lets the client compute its clock offset for skew-tolerant
// countdowns.
type VerifyOTPResponse struct {
	Token       string      `json:"token"`
	TestStudent TestStudent `json:"test_student"`
	Test        Test        `json:"test"`
	ServerTime  time.Time   `json:"server_time"`
}
