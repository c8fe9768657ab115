package proctor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(t *testing.T) (*Aggregator, *fakeRealtime) {
	t.Helper()
	agg := NewAggregator(AggregatorConfig{
		API:    NewAPI("http://unused.invalid", nil),
		Token:  "admin-token",
		TestID: uuid.New(),
		Logger: zerolog.Nop(),
	})
	rt := newFakeRealtime()
	require.NoError(t, agg.Bind(rt))
	return agg, rt
}

func joinedEvent(responseID uuid.UUID, name string) StudentJoinedEvent {
	return StudentJoinedEvent{
		TestStudentID:  1,
		TestID:         uuid.New(),
		TestResponseID: responseID,
		UserID:         1001,
		StudentName:    name,
		TestTitle:      "Demo Test",
	}
}

func TestAggregatorJoinIsUpsert(t *testing.T) {
	agg, rt := newTestAggregator(t)
	responseID := uuid.New()

	rt.fire(t, EventStudentJoined, joinedEvent(responseID, "Alice"))
	rt.fire(t, EventViolationAlert, ViolationAlertEvent{
		TestResponseID: responseID,
		ViolationType:  ViolationTabSwitch,
		StudentName:    "Alice",
	})

	// Re-announcement after a reconnect must not reset the entry.
	rt.fire(t, EventStudentJoined, joinedEvent(responseID, "Alice"))

	students := agg.Students()
	require.Len(t, students, 1)
	assert.Equal(t, "Alice", students[0].StudentName)
	assert.Equal(t, 1, students[0].ViolationCount)
}

func TestAggregatorViolationFeedBound(t *testing.T) {
	agg, rt := newTestAggregator(t)
	responseID := uuid.New()
	rt.fire(t, EventStudentJoined, joinedEvent(responseID, "Bob"))

	for i := 0; i < maxViolationFeed+10; i++ {
		rt.fire(t, EventViolationAlert, ViolationAlertEvent{
			TestResponseID: responseID,
			ViolationType:  fmt.Sprintf("TAB_SWITCH_%d", i),
			StudentName:    "Bob",
		})
	}

	feed := agg.Violations()
	require.Len(t, feed, maxViolationFeed)
	// Newest first: the last fired event heads the feed.
	assert.Equal(t, fmt.Sprintf("TAB_SWITCH_%d", maxViolationFeed+9), feed[0].ViolationType)

	student, ok := agg.Student(responseID)
	require.True(t, ok)
	assert.Equal(t, maxViolationFeed+10, student.ViolationCount)
}

func TestAggregatorAutoSubmitRemovesStudent(t *testing.T) {
	agg, rt := newTestAggregator(t)
	responseID := uuid.New()
	rt.fire(t, EventStudentJoined, joinedEvent(responseID, "Carol"))
	require.Len(t, agg.Students(), 1)

	rt.fire(t, EventAutoSubmitAlert, AutoSubmitAlertEvent{
		TestResponseID: responseID,
		SubmitType:     SubmitAutoViolation,
		Reason:         ViolationTabSwitch,
	})

	assert.Empty(t, agg.Students())
	feed := agg.AutoSubmits()
	require.Len(t, feed, 1)
	assert.Equal(t, SubmitAutoViolation, feed[0].SubmitType)
}

func TestAggregatorAutoSubmitFeedBound(t *testing.T) {
	agg, rt := newTestAggregator(t)

	for i := 0; i < maxAutoSubmitFeed+5; i++ {
		rt.fire(t, EventAutoSubmitAlert, AutoSubmitAlertEvent{
			TestResponseID: uuid.New(),
			SubmitType:     SubmitAutoTime,
			Reason:         fmt.Sprintf("r%d", i),
		})
	}

	feed := agg.AutoSubmits()
	require.Len(t, feed, maxAutoSubmitFeed)
	assert.Equal(t, fmt.Sprintf("r%d", maxAutoSubmitFeed+4), feed[0].Reason)
}

func TestAggregatorSnapshotRing(t *testing.T) {
	agg, rt := newTestAggregator(t)
	responseID := uuid.New()
	rt.fire(t, EventStudentJoined, joinedEvent(responseID, "Dave"))

	for i := 0; i < maxSnapshotsPerStudent+2; i++ {
		rt.fire(t, EventStudentSnapshot, StudentSnapshotEvent{
			TestResponseID: responseID,
			ImageURL:       fmt.Sprintf("https://cdn.example.com/%d.jpg", i),
			CapturedAt:     int64(i),
		})
	}

	student, ok := agg.Student(responseID)
	require.True(t, ok)
	require.Len(t, student.Snapshots, maxSnapshotsPerStudent)
	assert.Equal(t, "https://cdn.example.com/11.jpg", student.Snapshots[0].ImageURL)
	assert.Equal(t, "https://cdn.example.com/2.jpg", student.Snapshots[maxSnapshotsPerStudent-1].ImageURL)
}

func TestAggregatorDisconnectRemovesStudent(t *testing.T) {
	agg, rt := newTestAggregator(t)
	responseID := uuid.New()
	rt.fire(t, EventStudentJoined, joinedEvent(responseID, "Eve"))

	rt.fire(t, EventStudentDisconnected, StudentDisconnectedEvent{TestResponseID: responseID})

	assert.Empty(t, agg.Students())
	assert.Empty(t, agg.AutoSubmits(), "a plain disconnect is not an auto-submit")
}

func TestAggregatorResyncPreservesSnapshots(t *testing.T) {
	testID := uuid.New()
	responseID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/admin/tests/"+testID.String()+"/live", r.URL.Path)
		writeEnvelope(w, http.StatusOK, LiveRosterResult{
			Test: Test{ID: testID, Title: "Demo Test", DurationMinutes: 30},
			Sessions: []LiveSession{{
				TestResponseID: responseID,
				TestStudentID:  1,
				UserID:         1001,
				StudentName:    "Alice",
				Status:         "IN_PROGRESS",
				StartedAt:      time.Now().UTC(),
				ViolationCount: 7,
			}},
		})
	}))
	defer server.Close()

	agg := NewAggregator(AggregatorConfig{
		API:    NewAPI(server.URL, nil),
		Token:  "admin-token",
		TestID: testID,
		Logger: zerolog.Nop(),
	})
	rt := newFakeRealtime()
	require.NoError(t, agg.Bind(rt))

	rt.fire(t, EventStudentJoined, joinedEvent(responseID, "Alice"))
	rt.fire(t, EventStudentSnapshot, StudentSnapshotEvent{
		TestResponseID: responseID,
		ImageURL:       "https://cdn.example.com/a.jpg",
	})
	// A student the server no longer knows about.
	rt.fire(t, EventStudentJoined, joinedEvent(uuid.New(), "Ghost"))

	require.NoError(t, agg.Resync(context.Background()))

	students := agg.Students()
	require.Len(t, students, 1)
	assert.Equal(t, 7, students[0].ViolationCount, "resync adopts the server's count")
	require.Len(t, students[0].Snapshots, 1, "snapshot ring survives resync")
}

func TestAggregatorReconnectAnnouncesAndResyncs(t *testing.T) {
	testID := uuid.New()
	rosterCalls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rosterCalls++
		writeEnvelope(w, http.StatusOK, LiveRosterResult{Test: Test{ID: testID}})
	}))
	defer server.Close()

	agg := NewAggregator(AggregatorConfig{
		API:    NewAPI(server.URL, nil),
		Token:  "admin-token",
		TestID: testID,
		Logger: zerolog.Nop(),
	})
	rt := newFakeRealtime()
	require.NoError(t, agg.Bind(rt))
	require.Equal(t, 1, rt.countEmitted(EventAdminJoinMonitoring))
	assert.Equal(t, 0, rosterCalls, "first connect does not resync")

	rt.reconnect()
	assert.Equal(t, 2, rt.countEmitted(EventAdminJoinMonitoring))
	assert.Equal(t, 1, rosterCalls, "reconnect resyncs from the roster endpoint")
}

// writeEnvelope wraps data in the backend's response envelope.
func writeEnvelope(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": data,
		"metadata": map[string]string{
			"request_id": "test",
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
	})
}
