package proctor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCamera struct {
	mu      sync.Mutex
	healthy bool
	frame   []byte
}

func (c *scriptedCamera) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame, nil
}

func (c *scriptedCamera) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

func (c *scriptedCamera) Stop() {}

func (c *scriptedCamera) setHealthy(healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = healthy
}

func TestSnapshotLoopUploadsDataURL(t *testing.T) {
	var mu sync.Mutex
	var uploads []string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/exam/snapshots", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ImageData string `json:"image_data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		uploads = append(uploads, req.ImageData)
		mu.Unlock()
		writeEnvelope(w, http.StatusCreated, map[string]string{"image_url": "https://cdn.example.com/s.jpg"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cam := &scriptedCamera{healthy: true, frame: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
	loop := NewSnapshotLoop(SnapshotConfig{
		API:          NewAPI(server.URL, nil),
		Session:      &Session{Token: "exam-token", TestResponseID: uuid.New()},
		Camera:       cam,
		Logger:       zerolog.Nop(),
		Interval:     20 * time.Millisecond,
		InitialDelay: time.Millisecond,
	})
	loop.Start(context.Background())
	defer loop.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(uploads) >= 2
	}, 3*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(uploads[0], "data:image/jpeg;base64,"))
}

func TestSnapshotLoopReportsDeadCamera(t *testing.T) {
	violations := newViolationBackend(t, 0)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/exam/snapshots", func(w http.ResponseWriter, r *http.Request) {
		t.Error("no snapshot should be uploaded from a dead camera")
	})
	snapServer := httptest.NewServer(mux)
	defer snapServer.Close()

	rt := newFakeRealtime()
	monitor := newTestMonitor(violations, rt, nil, nil)
	monitor.Start(context.Background())
	defer monitor.Stop()

	cam := &scriptedCamera{healthy: false}
	loop := NewSnapshotLoop(SnapshotConfig{
		API:          NewAPI(snapServer.URL, nil),
		Session:      &Session{Token: "exam-token", TestResponseID: uuid.New()},
		Camera:       cam,
		Monitor:      monitor,
		Logger:       zerolog.Nop(),
		Interval:     20 * time.Millisecond,
		InitialDelay: time.Millisecond,
	})
	loop.Start(context.Background())
	defer loop.Stop()

	// Several ticks with a dead camera still produce one violation.
	require.Eventually(t, func() bool {
		return len(violations.reportedTypes()) >= 1
	}, 3*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{ViolationCameraOff}, violations.reportedTypes())
}
