package proctor

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Feed bounds. Newest entries come first; the oldest fall off.
const (
	maxViolationFeed       = 50
	maxAutoSubmitFeed      = 20
	maxSnapshotsPerStudent = 10
)

// ActiveStudent is one live attempt as seen by the admin dashboard.
type ActiveStudent struct {
	TestResponseID uuid.UUID
	TestStudentID  int
	UserID         int
	StudentName    string
	TestTitle      string
	ViolationCount int
	JoinedAt       time.Time
	// Snapshots holds the most recent webcam stills, newest first.
	Snapshots []StudentSnapshotEvent
}

// ViolationFeedItem is one entry of the rolling violation feed.
type ViolationFeedItem struct {
	TestResponseID uuid.UUID
	StudentName    string
	ViolationType  string
	At             time.Time
}

// AutoSubmitFeedItem is one entry of the rolling auto-submit feed.
type AutoSubmitFeedItem struct {
	TestResponseID uuid.UUID
	SubmitType     string
	Reason         string
	At             time.Time
}

// AggregatorConfig wires an admin-side aggregator.
type AggregatorConfig struct {
	API    *API
	Token  string
	TestID uuid.UUID
	Logger zerolog.Logger

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time

	// OnChange fires after any state mutation, for UI refresh.
	OnChange func()
}

// Aggregator maintains the admin's live view of one test: the active
// roster plus bounded violation, auto-submit, and snapshot feeds. All
// realtime events are upserts or removals keyed by test_response_id, so
// replayed announcements after a reconnect never duplicate students.
type Aggregator struct {
	api    *API
	token  string
	testID uuid.UUID
	log    zerolog.Logger
	now    func() time.Time

	onChange func()

	mu          sync.Mutex
	active      map[uuid.UUID]*ActiveStudent
	violations  []ViolationFeedItem
	autoSubmits []AutoSubmitFeedItem

	rt Realtime
}

// NewAggregator creates an aggregator for one test.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		api:      cfg.API,
		token:    cfg.Token,
		testID:   cfg.TestID,
		log:      cfg.Logger.With().Str("component", "aggregator").Logger(),
		now:      now,
		onChange: cfg.OnChange,
		active:   make(map[uuid.UUID]*ActiveStudent),
	}
}

// Bind attaches the aggregator to a realtime channel and connects it.
// On every (re)connect it announces the admin to the room and resyncs
// the roster from the authoritative HTTP endpoint.
func (a *Aggregator) Bind(rt Realtime) error {
	a.rt = rt

	rt.On(EventStudentJoined, a.handleStudentJoined)
	rt.On(EventViolationAlert, a.handleViolationAlert)
	rt.On(EventAutoSubmitAlert, a.handleAutoSubmitAlert)
	rt.On(EventStudentDisconnected, a.handleStudentDisconnected)
	rt.On(EventStudentSnapshot, a.handleStudentSnapshot)

	rt.OnConnect(func(reconnected bool) {
		if err := rt.Emit(EventAdminJoinMonitoring, map[string]interface{}{"test_id": a.testID}); err != nil {
			a.log.Warn().Err(err).Msg("Failed to join monitoring room")
		}
		if reconnected {
			// Events missed while disconnected are unrecoverable from
			// the stream; the roster endpoint is the source of truth.
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := a.Resync(ctx); err != nil {
				a.log.Warn().Err(err).Msg("Roster resync failed")
			}
		}
	})

	return rt.Connect()
}

// Close disconnects the realtime channel.
func (a *Aggregator) Close() {
	if a.rt != nil {
		a.rt.Disconnect()
	}
}

// Resync replaces the active roster with the server's authoritative
// list. Snapshot rings survive for students present in both views.
func (a *Aggregator) Resync(ctx context.Context) error {
	roster, err := a.api.LiveRoster(ctx, a.token, a.testID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	fresh := make(map[uuid.UUID]*ActiveStudent, len(roster.Sessions))
	for _, s := range roster.Sessions {
		student := &ActiveStudent{
			TestResponseID: s.TestResponseID,
			TestStudentID:  s.TestStudentID,
			UserID:         s.UserID,
			StudentName:    s.StudentName,
			TestTitle:      roster.Test.Title,
			ViolationCount: int(s.ViolationCount),
			JoinedAt:       s.StartedAt,
		}
		if prev, ok := a.active[s.TestResponseID]; ok {
			student.Snapshots = prev.Snapshots
		}
		fresh[s.TestResponseID] = student
	}
	a.active = fresh
	a.mu.Unlock()

	a.notify()
	return nil
}

// Terminate asks the backend to end one attempt. The roster entry is
// not removed here; removal arrives as an auto-submit alert once the
// server confirms.
func (a *Aggregator) Terminate(responseID uuid.UUID, reason, adminName string) error {
	return a.rt.Emit(EventAdminTerminateTest, AdminTerminateEvent{
		TestResponseID: responseID,
		Reason:         reason,
		AdminName:      adminName,
	})
}

// Warn sends a one-off message to a single student.
func (a *Aggregator) Warn(responseID uuid.UUID, message string) error {
	return a.rt.Emit(EventAdminSendWarning, AdminWarningEvent{
		TestResponseID: responseID,
		Message:        message,
	})
}

// Students returns the active roster ordered by join time, earliest
// first.
func (a *Aggregator) Students() []ActiveStudent {
	a.mu.Lock()
	out := make([]ActiveStudent, 0, len(a.active))
	for _, s := range a.active {
		out = append(out, *s)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].TestStudentID < out[j].TestStudentID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Student returns one roster entry by attempt ID.
func (a *Aggregator) Student(responseID uuid.UUID) (ActiveStudent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.active[responseID]
	if !ok {
		return ActiveStudent{}, false
	}
	return *s, true
}

// Violations returns the rolling violation feed, newest first.
func (a *Aggregator) Violations() []ViolationFeedItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ViolationFeedItem, len(a.violations))
	copy(out, a.violations)
	return out
}

// AutoSubmits returns the rolling auto-submit feed, newest first.
func (a *Aggregator) AutoSubmits() []AutoSubmitFeedItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AutoSubmitFeedItem, len(a.autoSubmits))
	copy(out, a.autoSubmits)
	return out
}

func (a *Aggregator) handleStudentJoined(data json.RawMessage) {
	var ev StudentJoinedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		a.log.Warn().Err(err).Msg("Bad student-joined payload")
		return
	}

	a.mu.Lock()
	if existing, ok := a.active[ev.TestResponseID]; ok {
		// Re-announcement after a reconnect: refresh identity fields,
		// keep counters and snapshots.
		existing.StudentName = ev.StudentName
		existing.TestTitle = ev.TestTitle
	} else {
		a.active[ev.TestResponseID] = &ActiveStudent{
			TestResponseID: ev.TestResponseID,
			TestStudentID:  ev.TestStudentID,
			UserID:         ev.UserID,
			StudentName:    ev.StudentName,
			TestTitle:      ev.TestTitle,
			JoinedAt:       a.now(),
		}
	}
	a.mu.Unlock()
	a.notify()
}

func (a *Aggregator) handleViolationAlert(data json.RawMessage) {
	var ev ViolationAlertEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		a.log.Warn().Err(err).Msg("Bad violation-alert payload")
		return
	}

	a.mu.Lock()
	if s, ok := a.active[ev.TestResponseID]; ok {
		s.ViolationCount++
	}
	a.violations = prependBounded(a.violations, ViolationFeedItem{
		TestResponseID: ev.TestResponseID,
		StudentName:    ev.StudentName,
		ViolationType:  ev.ViolationType,
		At:             a.now(),
	}, maxViolationFeed)
	a.mu.Unlock()
	a.notify()
}

func (a *Aggregator) handleAutoSubmitAlert(data json.RawMessage) {
	var ev AutoSubmitAlertEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		a.log.Warn().Err(err).Msg("Bad auto-submit-alert payload")
		return
	}

	a.mu.Lock()
	delete(a.active, ev.TestResponseID)
	a.autoSubmits = prependBounded(a.autoSubmits, AutoSubmitFeedItem{
		TestResponseID: ev.TestResponseID,
		SubmitType:     ev.SubmitType,
		Reason:         ev.Reason,
		At:             a.now(),
	}, maxAutoSubmitFeed)
	a.mu.Unlock()
	a.notify()
}

func (a *Aggregator) handleStudentDisconnected(data json.RawMessage) {
	var ev StudentDisconnectedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		a.log.Warn().Err(err).Msg("Bad student-disconnected payload")
		return
	}

	a.mu.Lock()
	delete(a.active, ev.TestResponseID)
	a.mu.Unlock()
	a.notify()
}

func (a *Aggregator) handleStudentSnapshot(data json.RawMessage) {
	var ev StudentSnapshotEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		a.log.Warn().Err(err).Msg("Bad student-snapshot payload")
		return
	}

	a.mu.Lock()
	if s, ok := a.active[ev.TestResponseID]; ok {
		s.Snapshots = prependBounded(s.Snapshots, ev, maxSnapshotsPerStudent)
	}
	a.mu.Unlock()
	a.notify()
}

func (a *Aggregator) notify() {
	if a.onChange != nil {
		a.onChange()
	}
}

// prependBounded inserts item at the front and drops the tail beyond
// limit.
func prependBounded[T any](items []T, item T, limit int) []T {
	items = append([]T{item}, items...)
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
