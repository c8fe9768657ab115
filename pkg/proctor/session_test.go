package proctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBackend is a minimal exam API for driving the session controller.
type testBackend struct {
	mu         sync.Mutex
	server     *httptest.Server
	serverTime time.Time
	startedAt  time.Time
	// scheduledStart gates entry when set; nil means open immediately.
	scheduledStart *time.Time
	testID         uuid.UUID
	responseID     uuid.UUID
	questionIDs    []uuid.UUID
	submitCalls    int
	answerCalls    int
}

func newTestBackend(t *testing.T, serverTime, startedAt time.Time) *testBackend {
	t.Helper()
	b := &testBackend{
		serverTime:  serverTime,
		startedAt:   startedAt,
		testID:      uuid.New(),
		responseID:  uuid.New(),
		questionIDs: []uuid.UUID{uuid.New(), uuid.New()},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/exam/otp/request", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusAccepted, map[string]string{"message": "otp issued"})
	})
	mux.HandleFunc("POST /api/v1/exam/otp/verify", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, VerifyOTPResult{
			Token:       "exam-token",
			TestStudent: RosterEntry{ID: 1, TestID: b.testID, UserID: 1001, Name: "Alice"},
			Test:        Test{ID: b.testID, Title: "Demo Test", DurationMinutes: 30, ScheduledStart: b.scheduledStart},
			ServerTime:  b.serverTime,
		})
	})
	mux.HandleFunc("POST /api/v1/exam/start", func(w http.ResponseWriter, r *http.Request) {
		questions := make([]Question, len(b.questionIDs))
		for i, id := range b.questionIDs {
			questions[i] = Question{ID: id, QuestionText: "?", OrderNum: i + 1}
		}
		writeEnvelope(w, http.StatusOK, StartResult{
			Test:      Test{ID: b.testID, Title: "Demo Test", DurationMinutes: 30},
			Questions: questions,
			TestResponse: Attempt{
				ID:        b.responseID,
				TestID:    b.testID,
				Status:    "IN_PROGRESS",
				StartedAt: b.startedAt,
			},
			SavedAnswers: map[string]string{b.questionIDs[0].String(): "B"},
		})
	})
	mux.HandleFunc("POST /api/v1/exam/answers", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.answerCalls++
		b.mu.Unlock()
		writeEnvelope(w, http.StatusOK, map[string]interface{}{"saved": true})
	})
	mux.HandleFunc("POST /api/v1/exam/submit", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.submitCalls++
		first := b.submitCalls == 1
		b.mu.Unlock()
		writeEnvelope(w, http.StatusOK, SubmitResult{
			TestResponse: Attempt{ID: b.responseID, Status: "SUBMITTED"},
			Submitted:    first,
		})
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *testBackend) submits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitCalls
}

// startSession drives a controller through the full entry flow.
func startSession(t *testing.T, b *testBackend, now time.Time) (*SessionController, *fakeRealtime, SessionStore) {
	t.Helper()
	rt := newFakeRealtime()
	store := NewMemoryStore()
	session := NewSession(SessionConfig{
		API:         NewAPI(b.server.URL, nil),
		Store:       store,
		NewRealtime: func(token string) Realtime { return rt },
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return now },
	})

	ctx := context.Background()
	require.NoError(t, session.RequestOTP(ctx, 1001, b.testID))
	require.Equal(t, StateOTPPending, session.State())
	require.NoError(t, session.VerifyOTP(ctx, 1001, b.testID, "123456"))
	require.Equal(t, StateInstructions, session.State())
	require.NoError(t, session.AcknowledgeInstructions())
	require.NoError(t, session.Begin(ctx))
	require.Equal(t, StateInProgress, session.State())
	return session, rt, store
}

func TestSessionCountdownUsesServerClock(t *testing.T) {
	local := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	// Server clock runs two minutes ahead; the attempt started one
	// server-minute ago.
	serverTime := local.Add(2 * time.Minute)
	startedAt := local.Add(1 * time.Minute)

	b := newTestBackend(t, serverTime, startedAt)
	session, _, _ := startSession(t, b, local)
	defer session.Finalize(SubmitManual)

	// 30min duration minus 1min elapsed on the server clock.
	assert.Equal(t, 29*60, session.RemainingSeconds())
}

func TestSessionResumesSavedAnswers(t *testing.T) {
	now := time.Now()
	b := newTestBackend(t, now, now)
	session, _, _ := startSession(t, b, now)
	defer session.Finalize(SubmitManual)

	opt, ok := session.Answer(b.questionIDs[0])
	require.True(t, ok)
	assert.Equal(t, "B", opt)
}

func TestSessionAnnouncesPresenceOnConnectAndReconnect(t *testing.T) {
	now := time.Now()
	b := newTestBackend(t, now, now)
	session, rt, _ := startSession(t, b, now)
	defer session.Finalize(SubmitManual)

	require.Equal(t, 1, rt.countEmitted(EventStudentStartedTest))

	rt.reconnect()
	assert.Equal(t, 2, rt.countEmitted(EventStudentStartedTest))
}

func TestSubmitIsIdempotent(t *testing.T) {
	now := time.Now()
	b := newTestBackend(t, now, now)
	session, _, store := startSession(t, b, now)

	require.NoError(t, session.Submit())
	require.NoError(t, session.Submit())
	require.NoError(t, session.Finalize(SubmitAutoTime))

	assert.Equal(t, 1, b.submits(), "only the first finalize reaches the backend")
	assert.Equal(t, StateSubmitted, session.State())

	_, err := store.Get()
	assert.ErrorIs(t, err, ErrNoSession, "finalize clears the stored session")
}

func TestConcurrentFinalizeSubmitsOnce(t *testing.T) {
	now := time.Now()
	b := newTestBackend(t, now, now)
	session, rt, _ := startSession(t, b, now)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = session.Finalize(SubmitAutoTime)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, b.submits())
	assert.Equal(t, 1, rt.countEmitted(EventTestAutoSubmitted))
}

func TestAdminTerminationSkipsSubmit(t *testing.T) {
	now := time.Now()
	b := newTestBackend(t, now, now)
	session, rt, store := startSession(t, b, now)

	rt.fire(t, EventTerminateTest, TerminateEvent{Reason: "suspicious activity"})

	assert.Equal(t, StateTerminated, session.State())
	assert.Equal(t, 0, b.submits(), "the server already finalized a terminated attempt")
	assert.Equal(t, 0, rt.countEmitted(EventTestAutoSubmitted))

	_, err := store.Get()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestInstructionsWaitForScheduledStart(t *testing.T) {
	local := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	// Server clock runs two minutes ahead; the test opens ten server
	// minutes after verification.
	serverTime := local.Add(2 * time.Minute)
	sched := serverTime.Add(10 * time.Minute)

	b := newTestBackend(t, serverTime, serverTime)
	b.scheduledStart = &sched

	var mu sync.Mutex
	now := local
	session := NewSession(SessionConfig{
		API:    NewAPI(b.server.URL, nil),
		Store:  NewMemoryStore(),
		Logger: zerolog.Nop(),
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		},
	})

	ctx := context.Background()
	require.NoError(t, session.RequestOTP(ctx, 1001, b.testID))
	require.NoError(t, session.VerifyOTP(ctx, 1001, b.testID, "123456"))

	assert.Equal(t, 10*time.Minute, session.TimeUntilStart())
	assert.ErrorIs(t, session.AcknowledgeInstructions(), ErrTestNotStarted)
	assert.Equal(t, StateInstructions, session.State())

	// Once the skew-corrected clock reaches the scheduled start the
	// same call goes through.
	mu.Lock()
	now = local.Add(10 * time.Minute)
	mu.Unlock()

	assert.Equal(t, time.Duration(0), session.TimeUntilStart())
	require.NoError(t, session.AcknowledgeInstructions())
	assert.Equal(t, StateCameraSetup, session.State())
}

// toggleCamera flips between dead and healthy.
type toggleCamera struct {
	mu      sync.Mutex
	healthy bool
}

func (c *toggleCamera) Capture(ctx context.Context) ([]byte, error) {
	return []byte{0xff, 0xd8}, nil
}

func (c *toggleCamera) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

func (c *toggleCamera) Stop() {}

func (c *toggleCamera) set(healthy bool) {
	c.mu.Lock()
	c.healthy = healthy
	c.mu.Unlock()
}

func TestBeginRequiresHealthyCamera(t *testing.T) {
	now := time.Now()
	b := newTestBackend(t, now, now)
	cam := &toggleCamera{}
	rt := newFakeRealtime()
	session := NewSession(SessionConfig{
		API:         NewAPI(b.server.URL, nil),
		Store:       NewMemoryStore(),
		NewRealtime: func(token string) Realtime { return rt },
		Camera:      cam,
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return now },
	})

	ctx := context.Background()
	require.NoError(t, session.RequestOTP(ctx, 1001, b.testID))
	require.NoError(t, session.VerifyOTP(ctx, 1001, b.testID, "123456"))
	require.NoError(t, session.AcknowledgeInstructions())

	// A dead camera blocks entry without losing the state; the student
	// fixes the camera and retries from where they are.
	require.Error(t, session.Begin(ctx))
	assert.Equal(t, StateCameraSetup, session.State())

	cam.set(true)
	require.NoError(t, session.Begin(ctx))
	assert.Equal(t, StateInProgress, session.State())

	require.NoError(t, session.Finalize(SubmitManual))
}

func TestSessionRejectsOutOfOrderCalls(t *testing.T) {
	now := time.Now()
	b := newTestBackend(t, now, now)
	session := NewSession(SessionConfig{
		API:    NewAPI(b.server.URL, nil),
		Store:  NewMemoryStore(),
		Logger: zerolog.Nop(),
	})

	ctx := context.Background()
	assert.ErrorIs(t, session.VerifyOTP(ctx, 1001, b.testID, "123456"), ErrBadTransition)
	assert.ErrorIs(t, session.AcknowledgeInstructions(), ErrBadTransition)
	assert.ErrorIs(t, session.Begin(ctx), ErrBadTransition)
	assert.ErrorIs(t, session.SelectAnswer(ctx, uuid.New(), "A", 0), ErrBadTransition)
}
