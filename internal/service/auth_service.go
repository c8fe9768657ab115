package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/provexa/proctor-backend/internal/config"
	"github.com/provexa/proctor-backend/internal/model"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionEnded       = errors.New("exam session has ended")
)

// TokenType distinguishes exam session vs admin tokens.
type TokenType string

const (
	TokenTypeExam  TokenType = "exam"
	TokenTypeAdmin TokenType = "admin"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType     TokenType `json:"token_type"`
	UserID        int       `json:"user_id"`
	TestStudentID int       `json:"test_student_id,omitempty"` // Exam only
	TestID        string    `json:"test_id,omitempty"`         // Exam only
	InstituteID   string    `json:"institute_id"`
}

// AuthService handles password hashing, JWT issuance, and the per-attempt
// session registry in Redis.
type AuthService struct {
	cfg *config.Config
	rdb *redis.Client
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// GenerateExamToken creates the session token issued on OTP verification
// and registers the session JTI in Redis. Re-verification replaces the
// previous registration, so a page reload re-entering the flow does not
// lock the student out.
func (s *AuthService) GenerateExamToken(ctx context.Context, ts *model.TestStudent, instituteID uuid.UUID) (string, error) {
	jti := uuid.New().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.Itoa(ts.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType:     TokenTypeExam,
		UserID:        ts.UserID,
		TestStudentID: ts.ID,
		TestID:        ts.TestID.String(),
		InstituteID:   instituteID.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	sessionKey := config.CacheKey.ExamSessionKey(ts.ID)
	if err := s.rdb.Set(ctx, sessionKey, jti, s.cfg.JWTExpiry).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}

	return signed, nil
}

// GenerateAdminToken creates a JWT for an admin.
func (s *AuthService) GenerateAdminToken(admin *model.Admin) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(admin.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType:   TokenTypeAdmin,
		UserID:      admin.ID,
		InstituteID: admin.InstituteID.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// ValidateExamSession checks that the token's JTI matches the registered
// session. The registration is deleted on submit/terminate, so a finalized
// attempt's token stops working immediately.
func (s *AuthService) ValidateExamSession(ctx context.Context, testStudentID int, jti string) error {
	sessionKey := config.CacheKey.ExamSessionKey(testStudentID)
	stored, err := s.rdb.Get(ctx, sessionKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionEnded
		}
		return fmt.Errorf("check session: %w", err)
	}
	if stored != jti {
		return ErrSessionEnded
	}
	return nil
}

// EndExamSession removes the session registration, invalidating the token.
func (s *AuthService) EndExamSession(ctx context.Context, testStudentID int) error {
	sessionKey := config.CacheKey.ExamSessionKey(testStudentID)
	return s.rdb.Del(ctx, sessionKey).Err()
}
