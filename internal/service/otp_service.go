package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/provexa/proctor-backend/internal/config"
	"github.com/provexa/proctor-backend/internal/model"
	"github.com/provexa/proctor-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// OTP flow errors.
var (
	ErrInvalidIdentity = errors.New("no roster entry for user/test pair")
	ErrInvalidOTP      = errors.New("otp mismatch")
	ErrOTPExpired      = errors.New("otp expired or never requested")
	ErrTooManyAttempts = errors.New("too many failed otp attempts")
)

// OTPService implements the OTP-gated entry to an exam session.
// OTPs are single-use, numeric, and expire after cfg.OTPTTL.
type OTPService struct {
	cfg        *config.Config
	rdb        *redis.Client
	rosterRepo *repository.RosterRepository
	log        zerolog.Logger
}

// NewOTPService creates a new OTPService.
func NewOTPService(cfg *config.Config, rdb *redis.Client, rosterRepo *repository.RosterRepository, log zerolog.Logger) *OTPService {
	return &OTPService{
		cfg:        cfg,
		rdb:        rdb,
		rosterRepo: rosterRepo,
		log:        log.With().Str("component", "otp_service").Logger(),
	}
}

// Request validates the user/test pair against the roster and stores a
// fresh OTP. Delivery (SMS/email) is handled out of band; the OTP is
// logged at debug level for development setups.
func (s *OTPService) Request(ctx context.Context, userID int, testID uuid.UUID) error {
	ts, err := s.rosterRepo.GetByUserAndTest(ctx, userID, testID)
	if err != nil {
		return ErrInvalidIdentity
	}

	otp, err := generateOTP()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}

	otpKey := config.CacheKey.ExamOTPKey(userID, testID.String())
	if err := s.rdb.Set(ctx, otpKey, otp, s.cfg.OTPTTL).Err(); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	// Requesting a new OTP resets the failed-attempt counter.
	_ = s.rdb.Del(ctx, config.CacheKey.ExamOTPAttemptsKey(userID, testID.String())).Err()

	s.log.Debug().
		Int("user_id", userID).
		Str("test_id", testID.String()).
		Int("test_student_id", ts.ID).
		Str("otp", otp).
		Msg("OTP issued")

	return nil
}

// Verify redeems an OTP. On success the OTP is consumed; a second verify
// with the same code fails with ErrOTPExpired.
func (s *OTPService) Verify(ctx context.Context, userID int, testID uuid.UUID, otp string) (*model.TestStudent, error) {
	attemptsKey := config.CacheKey.ExamOTPAttemptsKey(userID, testID.String())

	attempts, err := s.rdb.Get(ctx, attemptsKey).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("check attempts: %w", err)
	}
	if attempts >= s.cfg.OTPMaxAttempts {
		return nil, ErrTooManyAttempts
	}

	otpKey := config.CacheKey.ExamOTPKey(userID, testID.String())
	stored, err := s.rdb.Get(ctx, otpKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrOTPExpired
		}
		return nil, fmt.Errorf("get otp: %w", err)
	}

	if stored != otp {
		pipe := s.rdb.Pipeline()
		pipe.Incr(ctx, attemptsKey)
		pipe.Expire(ctx, attemptsKey, s.cfg.OTPTTL)
		_, _ = pipe.Exec(ctx)
		return nil, ErrInvalidOTP
	}

	// Single use: consume before returning.
	if err := s.rdb.Del(ctx, otpKey).Err(); err != nil {
		return nil, fmt.Errorf("consume otp: %w", err)
	}

	ts, err := s.rosterRepo.GetByUserAndTest(ctx, userID, testID)
	if err != nil {
		return nil, ErrInvalidIdentity
	}

	return ts, nil
}

// generateOTP returns a crypto-random 6-digit numeric code.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
