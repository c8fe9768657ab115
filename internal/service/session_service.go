package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/provexa/proctor-backend/internal/config"
	"github.com/provexa/proctor-backend/internal/model"
	"github.com/provexa/proctor-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Session lifecycle errors.
var (
	ErrTestNotAvailable = errors.New("test is not available")
	ErrResponseNotFound = errors.New("test response not found")
	ErrNotOwnedResponse = errors.New("response does not belong to this session")
	ErrAlreadyFinalized = errors.New("response already finalized")
)

// SessionService drives the exam attempt lifecycle: start, answer
// autosave, and the single idempotent finalize path shared by manual
// submit, time expiry, violation breach, and admin terminate.
type SessionService struct {
	responseRepo *repository.ResponseRepository
	testRepo     *repository.TestRepository
	authService  *AuthService
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	responseRepo *repository.ResponseRepository,
	testRepo *repository.TestRepository,
	authService *AuthService,
	rdb *redis.Client,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		responseRepo: responseRepo,
		testRepo:     testRepo,
		authService:  authService,
		rdb:          rdb,
		log:          log.With().Str("component", "session_service").Logger(),
	}
}

// Start creates (or resumes) the attempt for a roster entry and returns
// the full paper plus previously autosaved answers. Idempotent: a reload
// mid-exam lands on the same IN_PROGRESS response.
func (s *SessionService) Start(ctx context.Context, testStudentID int, testID uuid.UUID) (*model.StartTestResponse, error) {
	test, err := s.testRepo.GetByID(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}
	if test.Status != model.TestStatusPublished {
		return nil, ErrTestNotAvailable
	}
	if test.ScheduledStart != nil && time.Now().Before(*test.ScheduledStart) {
		return nil, ErrTestNotAvailable
	}

	resp := &model.TestResponse{TestID: testID, TestStudentID: testStudentID}
	if err := s.responseRepo.Create(ctx, resp); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("create response: %w", err)
		}
		// Concurrent or repeated start: reuse the existing attempt.
		existing, fetchErr := s.responseRepo.GetByTestStudent(ctx, testStudentID)
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch existing response: %w", fetchErr)
		}
		resp = existing
	} else {
		resp.Status = model.ResponseStatusInProgress
	}

	if resp.Status != model.ResponseStatusInProgress {
		return nil, ErrAlreadyFinalized
	}

	questions, err := s.testRepo.ListQuestions(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	// Cache the violation limit so the hot violation path skips PostgreSQL.
	limitKey := config.CacheKey.TestViolationLimitKey(testID.String())
	_ = s.rdb.Set(ctx, limitKey, test.ViolationLimit, 0).Err()

	saved, err := s.rdb.HGetAll(ctx, config.CacheKey.ResponseAnswersKey(resp.ID.String())).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get saved answers: %w", err)
	}
	if saved == nil {
		saved = map[string]string{}
	}

	return &model.StartTestResponse{
		Test:         *test,
		Questions:    questions,
		TestResponse: *resp,
		SavedAnswers: saved,
	}, nil
}

// SaveAnswer stores one answer in the Redis hash (last write wins per
// question) and queues it for PostgreSQL persistence.
func (s *SessionService) SaveAnswer(ctx context.Context, req *model.SaveAnswerRequest) error {
	answersKey := config.CacheKey.ResponseAnswersKey(req.TestResponseID.String())
	if err := s.rdb.HSet(ctx, answersKey, req.QuestionID.String(), req.SelectedOption).Err(); err != nil {
		return fmt.Errorf("autosave: %w", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"test_response_id": req.TestResponseID.String(),
		"question_id":      req.QuestionID.String(),
		"selected_option":  req.SelectedOption,
		"time_spent":       req.TimeSpentSecs,
	})
	return s.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err()
}

// GetOwnedResponse fetches a response and verifies it belongs to the
// given roster entry. Guards against forged response IDs.
func (s *SessionService) GetOwnedResponse(ctx context.Context, responseID uuid.UUID, testStudentID int) (*model.TestResponse, error) {
	resp, err := s.responseRepo.GetByID(ctx, responseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResponseNotFound
		}
		return nil, fmt.Errorf("get response: %w", err)
	}
	if resp.TestStudentID != testStudentID {
		return nil, ErrNotOwnedResponse
	}
	return resp, nil
}

// GetResponse fetches a response without an ownership check (admin paths).
func (s *SessionService) GetResponse(ctx context.Context, responseID uuid.UUID) (*model.TestResponse, error) {
	resp, err := s.responseRepo.GetByID(ctx, responseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResponseNotFound
		}
		return nil, fmt.Errorf("get response: %w", err)
	}
	return resp, nil
}

// Finalize is the single terminal entry point for an attempt. All exit
// paths (manual submit, time expiry, violation breach, admin terminate)
// converge here. The conditional UPDATE in the repository guarantees the
// transition happens once; losers of the race get the already-final
// response back with finalized=false.
func (s *SessionService) Finalize(ctx context.Context, responseID uuid.UUID, submitType model.SubmitType) (*model.TestResponse, bool, error) {
	status := model.ResponseStatusSubmitted
	if submitType == model.SubmitTypeTerminated {
		status = model.ResponseStatusTerminated
	}

	count, err := s.rdb.Get(ctx, config.CacheKey.ResponseViolationsKey(responseID.String())).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		count = 0
	}

	resp, err := s.responseRepo.Finalize(ctx, responseID, status, submitType, count)
	if err != nil {
		if repository.IsAlreadyFinalized(err) {
			existing, fetchErr := s.responseRepo.GetByID(ctx, responseID)
			if fetchErr != nil {
				return nil, false, fmt.Errorf("fetch finalized response: %w", fetchErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("finalize response: %w", err)
	}

	// Invalidate the session token so further exam API calls 401.
	if err := s.authService.EndExamSession(ctx, resp.TestStudentID); err != nil {
		s.log.Warn().Err(err).
			Str("response_id", responseID.String()).
			Msg("Failed to end exam session registration")
	}

	s.log.Info().
		Str("response_id", responseID.String()).
		Str("submit_type", string(submitType)).
		Int("violations", count).
		Msg("Attempt finalized")

	return resp, true, nil
}
