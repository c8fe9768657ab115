package proctor

import (
	"context"
	"encoding/json"
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

// violationBackend records reported violation types and scripts the
// server's threshold decisions.
type violationBackend struct {
	mu       sync.Mutex
	server   *httptest.Server
	reported []string
	// autoSubmitAfter triggers the auto-submit outcome once this many
	// reports have arrived.
	autoSubmitAfter int
}

func newViolationBackend(t *testing.T, autoSubmitAfter int) *violationBackend {
	t.Helper()
	b := &violationBackend{autoSubmitAfter: autoSubmitAfter}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/exam/violations", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ViolationType string `json:"violation_type"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		b.mu.Lock()
		b.reported = append(b.reported, req.ViolationType)
		count := len(b.reported)
		b.mu.Unlock()

		if b.autoSubmitAfter > 0 && count >= b.autoSubmitAfter {
			writeEnvelope(w, http.StatusOK, ViolationOutcome{AutoSubmitted: true})
			return
		}
		writeEnvelope(w, http.StatusOK, ViolationOutcome{
			Warning: &ViolationWarning{Message: "warned", Count: count, Limit: 5},
		})
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *violationBackend) reportedTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.reported...)
}

func newTestMonitor(b *violationBackend, rt *fakeRealtime, onAutoSubmit func(), onWarning func(ViolationWarning)) *Monitor {
	return NewMonitor(MonitorConfig{
		API: NewAPI(b.server.URL, nil),
		Session: &Session{
			Token:          "exam-token",
			TestResponseID: uuid.New(),
			StudentName:    "Alice",
		},
		Emitter:      rt,
		Logger:       zerolog.Nop(),
		OnAutoSubmit: onAutoSubmit,
		OnWarning:    onWarning,
	})
}

func TestMonitorReportsAndWarns(t *testing.T) {
	b := newViolationBackend(t, 0)
	rt := newFakeRealtime()

	var mu sync.Mutex
	var warnings []ViolationWarning
	m := newTestMonitor(b, rt, nil, func(w ViolationWarning) {
		mu.Lock()
		warnings = append(warnings, w)
		mu.Unlock()
	})
	m.Start(context.Background())
	defer m.Stop()

	m.Report(ViolationTabSwitch, nil)
	m.Report(ViolationWindowBlur, nil)

	require.Eventually(t, func() bool {
		return len(b.reportedTypes()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{ViolationTabSwitch, ViolationWindowBlur}, b.reportedTypes())
	assert.Equal(t, 2, rt.countEmitted(EventViolationDetected))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, warnings, 2)
	assert.Equal(t, 2, warnings[1].Count)
	assert.Equal(t, 5, warnings[1].Limit)
}

func TestMonitorCameraOutageFiresOnce(t *testing.T) {
	b := newViolationBackend(t, 0)
	rt := newFakeRealtime()
	m := newTestMonitor(b, rt, nil, nil)
	m.Start(context.Background())
	defer m.Stop()

	// One outage noticed from several places (poll loop, snapshot
	// loop) must produce a single violation.
	m.ReportCameraDown()
	m.ReportCameraDown()
	m.ReportCameraDown()

	require.Eventually(t, func() bool {
		return len(b.reportedTypes()) >= 1
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []string{ViolationCameraOff}, b.reportedTypes())
}

type fakeVisibility struct {
	ch chan bool
}

func (f *fakeVisibility) Changes() <-chan bool { return f.ch }

func TestMonitorVisibilityHidesBecomeTabSwitches(t *testing.T) {
	b := newViolationBackend(t, 0)
	rt := newFakeRealtime()
	vis := &fakeVisibility{ch: make(chan bool, 8)}

	m := NewMonitor(MonitorConfig{
		API: NewAPI(b.server.URL, nil),
		Session: &Session{
			Token:          "exam-token",
			TestResponseID: uuid.New(),
			StudentName:    "Alice",
		},
		Emitter:    rt,
		Visibility: vis,
		Logger:     zerolog.Nop(),
	})
	m.Start(context.Background())
	defer m.Stop()

	// Hide, return, hide again. Only the hides count.
	vis.ch <- false
	vis.ch <- true
	vis.ch <- false

	require.Eventually(t, func() bool {
		return len(b.reportedTypes()) == 2
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []string{ViolationTabSwitch, ViolationTabSwitch}, b.reportedTypes())
}

func TestMonitorAutoSubmitCallback(t *testing.T) {
	b := newViolationBackend(t, 2)
	rt := newFakeRealtime()

	var submits sync.WaitGroup
	submits.Add(1)
	var once sync.Once
	m := newTestMonitor(b, rt, func() {
		once.Do(submits.Done)
	}, nil)
	m.Start(context.Background())
	defer m.Stop()

	m.Report(ViolationTabSwitch, nil)
	m.Report(ViolationTabSwitch, nil)

	done := make(chan struct{})
	go func() {
		submits.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("auto-submit callback never fired")
	}
}
