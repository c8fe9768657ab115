package proctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the client-side exam lifecycle state.
type State string

const (
	StateLogin        State = "LOGIN"
	StateOTPPending   State = "OTP_PENDING"
	StateInstructions State = "INSTRUCTIONS"
	StateCameraSetup  State = "CAMERA_SETUP"
	StateInProgress   State = "IN_PROGRESS"
	StateSubmitted    State = "SUBMITTED"
	StateTerminated   State = "TERMINATED"
)

// ErrBadTransition is returned when an operation is not valid in the
// current state.
var ErrBadTransition = errors.New("operation not valid in current state")

// ErrTestNotStarted is returned when the scheduled start, measured on
// the server clock, is still in the future.
var ErrTestNotStarted = errors.New("test has not started yet")

// Realtime is the event channel the session controller drives. It is
// injected so tests and simulators can substitute their own transport.
type Realtime interface {
	Connect() error
	Disconnect()
	Emit(event string, data interface{}) error
	On(event string, handler func(data json.RawMessage))
	OnConnect(fn func(reconnected bool))
}

// Camera abstracts the webcam. Healthy must be cheap; it is polled by
// the violation monitor and re-checked before every snapshot.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
	Healthy() bool
	Stop()
}

// SessionConfig wires a session controller.
type SessionConfig struct {
	API   *API
	Store SessionStore
	// NewRealtime builds the event channel once a token exists.
	NewRealtime func(token string) Realtime
	Camera      Camera
	// Visibility feeds tab/app visibility transitions to the violation
	// monitor. Optional; ReportViolation covers hosts without one.
	Visibility VisibilitySource
	Logger     zerolog.Logger

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time

	// OnStateChange, OnWarning and OnAdminMessage are optional UI hooks.
	OnStateChange  func(State)
	OnWarning      func(ViolationWarning)
	OnAdminMessage func(message string)
}

// SessionController owns one student's exam attempt from login to
// submission. All transitions funnel through a single finalize path so
// submission happens exactly once no matter which trigger fires first
// (timer expiry, violation threshold, admin termination, user submit).
type SessionController struct {
	api        *API
	store      SessionStore
	newRT      func(token string) Realtime
	cam        Camera
	visibility VisibilitySource
	log        zerolog.Logger
	now        func() time.Time

	onStateChange  func(State)
	onWarning      func(ViolationWarning)
	onAdminMessage func(string)

	mu        sync.Mutex
	state     State
	session   *Session
	test      *Test
	questions []Question
	answers   map[uuid.UUID]string
	finalized bool

	rt       Realtime
	monitor  *Monitor
	snapshot *SnapshotLoop
	timer    *time.Timer
	loopStop context.CancelFunc
}

// NewSession creates a controller in the LOGIN state.
func NewSession(cfg SessionConfig) *SessionController {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &SessionController{
		api:            cfg.API,
		store:          cfg.Store,
		newRT:          cfg.NewRealtime,
		cam:            cfg.Camera,
		visibility:     cfg.Visibility,
		log:            cfg.Logger.With().Str("component", "session").Logger(),
		now:            now,
		onStateChange:  cfg.OnStateChange,
		onWarning:      cfg.OnWarning,
		onAdminMessage: cfg.OnAdminMessage,
		state:          StateLogin,
		answers:        make(map[uuid.UUID]string),
	}
}

// State returns the current lifecycle state.
func (s *SessionController) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Test returns the exam definition once known.
func (s *SessionController) Test() *Test {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.test
}

// Questions returns the delivered paper.
func (s *SessionController) Questions() []Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questions
}

// Answer returns the locally recorded answer for a question.
func (s *SessionController) Answer(questionID uuid.UUID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opt, ok := s.answers[questionID]
	return opt, ok
}

func (s *SessionController) setState(next State) {
	s.state = next
	if s.onStateChange != nil {
		go s.onStateChange(next)
	}
}

// Resume reloads a stored session, returning true when one exists. The
// caller should then proceed directly to Begin.
func (s *SessionController) Resume() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLogin {
		return false, ErrBadTransition
	}

	sess, err := s.store.Get()
	if errors.Is(err, ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.session = sess
	s.setState(StateCameraSetup)
	return true, nil
}

// RequestOTP asks for an OTP and moves to OTP_PENDING.
func (s *SessionController) RequestOTP(ctx context.Context, userID int, testID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLogin && s.state != StateOTPPending {
		return ErrBadTransition
	}

	if err := s.api.RequestOTP(ctx, userID, testID); err != nil {
		return err
	}
	s.setState(StateOTPPending)
	return nil
}

// VerifyOTP redeems the OTP, computes the server clock skew, persists
// the session, and moves to INSTRUCTIONS.
func (s *SessionController) VerifyOTP(ctx context.Context, userID int, testID uuid.UUID, otp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOTPPending {
		return ErrBadTransition
	}

	res, err := s.api.VerifyOTP(ctx, userID, testID, otp)
	if err != nil {
		return err
	}

	// Positive skew means the server clock is ahead of ours. All
	// countdown math adds this to the local clock.
	skew := res.ServerTime.Sub(s.now())

	s.session = &Session{
		Token:           res.Token,
		UserID:          userID,
		TestStudentID:   res.TestStudent.ID,
		TestID:          testID,
		StudentName:     res.TestStudent.Name,
		TestTitle:       res.Test.Title,
		TestDuration:    time.Duration(res.Test.DurationMinutes) * time.Minute,
		ServerClockSkew: skew,
	}
	s.test = &res.Test
	if err := s.store.Set(s.session); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist session")
	}

	s.setState(StateInstructions)
	return nil
}

// AcknowledgeInstructions moves to CAMERA_SETUP once the test's
// scheduled start has passed on the skew-corrected clock.
func (s *SessionController) AcknowledgeInstructions() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInstructions {
		return ErrBadTransition
	}
	if s.timeUntilStartLocked() > 0 {
		return ErrTestNotStarted
	}
	s.setState(StateCameraSetup)
	return nil
}

// TimeUntilStart returns the skew-corrected wait until the scheduled
// start, zero once the test is open. Callers drive their pre-start
// countdown off this.
func (s *SessionController) TimeUntilStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeUntilStartLocked()
}

func (s *SessionController) timeUntilStartLocked() time.Duration {
	if s.test == nil || s.test.ScheduledStart == nil {
		return 0
	}
	serverNow := s.now().Add(s.session.ServerClockSkew)
	wait := s.test.ScheduledStart.Sub(serverNow)
	if wait < 0 {
		return 0
	}
	return wait
}

// Begin verifies the camera, starts (or resumes) the attempt, connects
// the realtime channel, and arms the countdown. Valid from CAMERA_SETUP.
func (s *SessionController) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCameraSetup {
		return ErrBadTransition
	}
	if s.cam != nil && !s.cam.Healthy() {
		return fmt.Errorf("camera unavailable")
	}

	res, err := s.api.StartTest(ctx, s.session.Token)
	if err != nil {
		if IsCode(err, CodeResponseFinalized) {
			// The attempt ended while we were away (auto-submit or
			// termination during a disconnect). Clean up locally.
			s.teardownLocked(StateSubmitted)
			return err
		}
		return err
	}

	s.test = &res.Test
	s.questions = res.Questions
	for qid, opt := range res.SavedAnswers {
		if id, err := uuid.Parse(qid); err == nil {
			s.answers[id] = opt
		}
	}

	s.session.TestResponseID = res.TestResponse.ID
	s.session.TestDuration = time.Duration(res.Test.DurationMinutes) * time.Minute
	s.session.StartedAt = res.TestResponse.StartedAt
	if err := s.store.Set(s.session); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist session")
	}

	if err := s.connectRealtimeLocked(); err != nil {
		return err
	}
	s.startLoopsLocked()
	s.armTimerLocked()

	s.setState(StateInProgress)
	return nil
}

func (s *SessionController) connectRealtimeLocked() error {
	if s.newRT == nil {
		return nil
	}
	rt := s.newRT(s.session.Token)

	rt.On(EventTerminateTest, func(data json.RawMessage) {
		s.log.Warn().Msg("Terminated by admin")
		s.Finalize(SubmitTerminated)
	})
	rt.On(EventWarningFromAdmin, func(data json.RawMessage) {
		if s.onAdminMessage != nil {
			var w WarningEvent
			if err := json.Unmarshal(data, &w); err == nil {
				s.onAdminMessage(w.Message)
			}
		}
	})

	// Presence must be re-announced on every reconnect so the admin
	// room re-learns this attempt.
	joined := StudentJoinedEvent{
		TestStudentID:  s.session.TestStudentID,
		TestID:         s.session.TestID,
		TestResponseID: s.session.TestResponseID,
		UserID:         s.session.UserID,
		StudentName:    s.session.StudentName,
		TestTitle:      s.session.TestTitle,
	}
	rt.OnConnect(func(reconnected bool) {
		if err := rt.Emit(EventStudentStartedTest, joined); err != nil {
			s.log.Warn().Err(err).Msg("Failed to announce presence")
		}
	})

	if err := rt.Connect(); err != nil {
		return fmt.Errorf("realtime connect: %w", err)
	}
	s.rt = rt
	return nil
}

func (s *SessionController) startLoopsLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.loopStop = cancel

	s.monitor = NewMonitor(MonitorConfig{
		API:        s.api,
		Session:    s.session,
		Emitter:    s.rt,
		Camera:     s.cam,
		Visibility: s.visibility,
		Logger:     s.log,
		OnAutoSubmit: func() {
			s.Finalize(SubmitAutoViolation)
		},
		OnWarning: s.onWarning,
	})
	s.monitor.Start(ctx)

	if s.cam != nil {
		s.snapshot = NewSnapshotLoop(SnapshotConfig{
			API:     s.api,
			Session: s.session,
			Camera:  s.cam,
			Monitor: s.monitor,
			Logger:  s.log,
		})
		s.snapshot.Start(ctx)
	}
}

func (s *SessionController) armTimerLocked() {
	remaining := s.remainingLocked()
	s.timer = time.AfterFunc(remaining, func() {
		s.log.Info().Msg("Exam time expired")
		s.Finalize(SubmitAutoTime)
	})
}

// RemainingSeconds returns the skew-corrected countdown, floored at zero.
func (s *SessionController) RemainingSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.remainingLocked() / time.Second)
}

func (s *SessionController) remainingLocked() time.Duration {
	serverNow := s.now().Add(s.session.ServerClockSkew)
	remaining := s.session.TestDuration - serverNow.Sub(s.session.StartedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SelectAnswer records an answer locally and autosaves it. The local
// copy is kept even when the save fails; a resumed attempt re-syncs
// from the server's saved answers.
func (s *SessionController) SelectAnswer(ctx context.Context, questionID uuid.UUID, option string, timeSpentSecs int) error {
	s.mu.Lock()
	if s.state != StateInProgress {
		s.mu.Unlock()
		return ErrBadTransition
	}
	s.answers[questionID] = option
	token := s.session.Token
	responseID := s.session.TestResponseID
	s.mu.Unlock()

	if err := s.api.SaveAnswer(ctx, token, responseID, questionID, option, timeSpentSecs); err != nil {
		s.log.Warn().Err(err).Str("question_id", questionID.String()).Msg("Autosave failed")
		return err
	}
	return nil
}

// ReportViolation forwards an externally detected violation (tab switch,
// window blur) into the monitor's single reporting path.
func (s *SessionController) ReportViolation(violationType string) {
	s.mu.Lock()
	monitor := s.monitor
	s.mu.Unlock()
	if monitor != nil {
		monitor.Report(violationType, nil)
	}
}

// Submit finalizes the attempt on the user's request.
func (s *SessionController) Submit() error {
	return s.Finalize(SubmitManual)
}

// Finalize ends the attempt with the given submit type. It is the single
// exit path and is idempotent: the first caller wins, later calls are
// no-ops. For manual and auto-time the backend submit runs here; for
// auto-violation and terminated the backend has already finalized the
// attempt and only local teardown remains.
func (s *SessionController) Finalize(submitType string) error {
	s.mu.Lock()
	if s.finalized || s.session == nil {
		s.mu.Unlock()
		return nil
	}
	s.finalized = true
	token := s.session.Token
	responseID := s.session.TestResponseID
	rt := s.rt
	s.mu.Unlock()

	needsSubmit := submitType == SubmitManual || submitType == SubmitAutoTime
	if needsSubmit {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := s.api.Submit(ctx, token, responseID, submitType); err != nil {
			// Already-finalized conflicts mean the server got there
			// first; anything else is retryable by the caller.
			if !IsCode(err, CodeResponseFinalized) {
				s.mu.Lock()
				s.finalized = false
				s.mu.Unlock()
				return err
			}
		}
	}

	if rt != nil && (submitType == SubmitAutoTime || submitType == SubmitAutoViolation) {
		if err := rt.Emit(EventTestAutoSubmitted, AutoSubmitAlertEvent{
			TestResponseID: responseID,
			SubmitType:     submitType,
		}); err != nil {
			s.log.Debug().Err(err).Msg("Auto-submit notice not delivered")
		}
	}

	final := StateSubmitted
	if submitType == SubmitTerminated {
		final = StateTerminated
	}

	s.mu.Lock()
	s.teardownLocked(final)
	s.mu.Unlock()

	s.log.Info().Str("submit_type", submitType).Msg("Attempt finalized")
	return nil
}

// teardownLocked stops media and timers, drops the connection, and
// clears the stored session.
func (s *SessionController) teardownLocked(final State) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.loopStop != nil {
		s.loopStop()
		s.loopStop = nil
	}
	if s.cam != nil {
		s.cam.Stop()
	}
	if s.rt != nil {
		s.rt.Disconnect()
		s.rt = nil
	}
	if err := s.store.Clear(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to clear stored session")
	}
	s.finalized = true
	s.setState(final)
}
