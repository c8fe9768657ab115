package proctoring

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
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSessions records terminate orders.
type fakeSessions struct {
	mu         sync.Mutex
	terminated []uuid.UUID
	reasons    []string
}

func (f *fakeSessions) Terminate(ctx context.Context, responseID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, responseID)
	f.reasons = append(f.reasons, reason)
	return nil
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.terminated)
}

// fakeBus mimics Redis pub/sub semantics: a publish is delivered to
// every subscriber of the channel, the publisher's own included.
type fakeBus struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]func(origin, event string, payload []byte)
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[uuid.UUID][]func(origin, event string, payload []byte))}
}

func (b *fakeBus) PublishRoomEvent(instituteID uuid.UUID, origin, event string, payload []byte) error {
	b.mu.Lock()
	handlers := append([]func(origin, event string, payload []byte){}, b.subs[instituteID]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(origin, event, payload)
	}
	return nil
}

func (b *fakeBus) SubscribeRoom(instituteID uuid.UUID, handler func(origin, event string, payload []byte)) (func(), error) {
	b.mu.Lock()
	b.subs[instituteID] = append(b.subs[instituteID], handler)
	b.mu.Unlock()
	return func() {}, nil
}

// hubHarness runs a hub behind a real websocket endpoint.
type hubHarness struct {
	hub         *Hub
	sessions    *fakeSessions
	server      *httptest.Server
	instituteID uuid.UUID
}

func newHubHarness(t *testing.T) *hubHarness {
	return newHubHarnessOn(t, nil, uuid.New())
}

// newHubHarnessOn shares a bus and an institute across hub instances.
func newHubHarnessOn(t *testing.T, bus *fakeBus, instituteID uuid.UUID) *hubHarness {
	t.Helper()
	h := &hubHarness{
		sessions:    &fakeSessions{},
		instituteID: instituteID,
	}
	var pub RedisPublisher
	var sub RedisSubscriber
	if bus != nil {
		pub, sub = bus, bus
	}
	h.hub = NewHub(h.sessions, pub, sub, zerolog.Nop())

	upgrader := websocket.Upgrader{}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		role := r.URL.Query().Get("role")
		name := r.URL.Query().Get("name")
		client := NewClient(h.hub, conn, h.instituteID, role, 1001, name, zerolog.Nop())
		go client.Run()
	}))
	t.Cleanup(h.server.Close)
	return h
}

// connect opens one websocket with the given role.
func (h *hubHarness) connect(t *testing.T, role, name string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.server.URL, "http") + "?role=" + role + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads frames until one matches the wanted event.
func readEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if msg.Event == event {
			return msg.Data
		}
	}
}

// drainEvents collects every event name arriving within the window.
func drainEvents(t *testing.T, conn *websocket.Conn, window time.Duration) []string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(window))
	var events []string
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return events
		}
		events = append(events, msg.Event)
	}
}

func countOf(events []string, event string) int {
	n := 0
	for _, e := range events {
		if e == event {
			n++
		}
	}
	return n
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Event: event, Data: data}))
}

func waitRoomSize(t *testing.T, h *hubHarness, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.hub.RoomSize(h.instituteID) == want
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStudentJoinReachesAdmins(t *testing.T) {
	h := newHubHarness(t)
	admin := h.connect(t, RoleAdmin, "Proctor")
	student := h.connect(t, RoleStudent, "Alice")
	waitRoomSize(t, h, 2)

	responseID := uuid.New()
	sendEvent(t, student, EventStudentStartedTest, StudentJoinedPayload{
		TestResponseID: responseID,
		TestID:         uuid.New(),
		TestStudentID:  7,
		StudentName:    "Spoofed",
		TestTitle:      "Demo Test",
	})

	data := readEvent(t, admin, EventStudentJoined)
	var p StudentJoinedPayload
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, responseID, p.TestResponseID)
	assert.Equal(t, "Alice", p.StudentName, "identity comes from the connection, not the payload")
	assert.Equal(t, 1001, p.UserID)
}

func TestViolationRelayRequiresBoundAttempt(t *testing.T) {
	h := newHubHarness(t)
	admin := h.connect(t, RoleAdmin, "Proctor")
	student := h.connect(t, RoleStudent, "Alice")
	waitRoomSize(t, h, 2)

	responseID := uuid.New()

	// Unbound reports are dropped.
	sendEvent(t, student, EventViolationDetected, ViolationDetectedPayload{
		TestResponseID: responseID,
		ViolationType:  "TAB_SWITCH",
	})

	sendEvent(t, student, EventStudentStartedTest, StudentJoinedPayload{TestResponseID: responseID})
	readEvent(t, admin, EventStudentJoined)

	sendEvent(t, student, EventViolationDetected, ViolationDetectedPayload{
		TestResponseID: responseID,
		ViolationType:  "TAB_SWITCH",
	})

	data := readEvent(t, admin, EventViolationAlert)
	var alert ViolationAlertPayload
	require.NoError(t, json.Unmarshal(data, &alert))
	assert.Equal(t, "TAB_SWITCH", alert.ViolationType)
	assert.Equal(t, "Alice", alert.StudentName)
}

func TestAdminTerminateFinalizesAndNotifies(t *testing.T) {
	h := newHubHarness(t)
	admin := h.connect(t, RoleAdmin, "Proctor")
	student := h.connect(t, RoleStudent, "Alice")
	waitRoomSize(t, h, 2)

	responseID := uuid.New()
	sendEvent(t, student, EventStudentStartedTest, StudentJoinedPayload{TestResponseID: responseID})
	readEvent(t, admin, EventStudentJoined)

	sendEvent(t, admin, EventAdminTerminateTest, AdminTerminatePayload{
		TestResponseID: responseID,
		Reason:         "multiple faces detected",
		AdminName:      "Proctor",
	})

	data := readEvent(t, student, EventTerminateTest)
	var term TerminatePayload
	require.NoError(t, json.Unmarshal(data, &term))
	assert.Equal(t, "multiple faces detected", term.Reason)

	data = readEvent(t, admin, EventAutoSubmitAlert)
	var alert AutoSubmitAlertPayload
	require.NoError(t, json.Unmarshal(data, &alert))
	assert.Equal(t, "terminated", alert.SubmitType)

	require.Eventually(t, func() bool { return h.sessions.count() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestAdminWarningGoesToOneStudent(t *testing.T) {
	h := newHubHarness(t)
	admin := h.connect(t, RoleAdmin, "Proctor")
	alice := h.connect(t, RoleStudent, "Alice")
	bob := h.connect(t, RoleStudent, "Bob")
	waitRoomSize(t, h, 3)

	aliceID, bobID := uuid.New(), uuid.New()
	sendEvent(t, alice, EventStudentStartedTest, StudentJoinedPayload{TestResponseID: aliceID})
	readEvent(t, admin, EventStudentJoined)
	sendEvent(t, bob, EventStudentStartedTest, StudentJoinedPayload{TestResponseID: bobID})
	readEvent(t, admin, EventStudentJoined)

	sendEvent(t, admin, EventAdminSendWarning, AdminWarningPayload{
		TestResponseID: aliceID,
		Message:        "stay in fullscreen",
	})

	data := readEvent(t, alice, EventWarningFromAdmin)
	var warning WarningPayload
	require.NoError(t, json.Unmarshal(data, &warning))
	assert.Equal(t, "stay in fullscreen", warning.Message)

	// Bob gets nothing; the next thing he could read would time out.
	_ = bob.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var msg Message
	err := bob.ReadJSON(&msg)
	require.Error(t, err, "warning must not leak to other students")
}

func TestStudentReconnectDoesNotAnnounceDisconnect(t *testing.T) {
	h := newHubHarness(t)
	admin := h.connect(t, RoleAdmin, "Proctor")
	first := h.connect(t, RoleStudent, "Alice")
	waitRoomSize(t, h, 2)

	responseID := uuid.New()
	sendEvent(t, first, EventStudentStartedTest, StudentJoinedPayload{TestResponseID: responseID})
	readEvent(t, admin, EventStudentJoined)

	// Reconnect: a fresh socket re-announces the same attempt.
	second := h.connect(t, RoleStudent, "Alice")
	waitRoomSize(t, h, 3)
	sendEvent(t, second, EventStudentStartedTest, StudentJoinedPayload{TestResponseID: responseID})
	readEvent(t, admin, EventStudentJoined)

	// The stale socket closing must not remove the live student.
	first.Close()
	waitRoomSize(t, h, 2)

	// Warnings still reach the live connection.
	sendEvent(t, admin, EventAdminSendWarning, AdminWarningPayload{
		TestResponseID: responseID,
		Message:        "ping",
	})
	readEvent(t, second, EventWarningFromAdmin)

	// And no student-disconnected was broadcast for the stale socket.
	_ = admin.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		var msg Message
		if err := admin.ReadJSON(&msg); err != nil {
			break
		}
		assert.NotEqual(t, EventStudentDisconnected, msg.Event)
	}
}

func TestRoomEventsStayOffStudentSockets(t *testing.T) {
	h := newHubHarness(t)
	admin := h.connect(t, RoleAdmin, "Proctor")
	alice := h.connect(t, RoleStudent, "Alice")
	bob := h.connect(t, RoleStudent, "Bob")
	waitRoomSize(t, h, 3)

	responseID := uuid.New()
	sendEvent(t, alice, EventStudentStartedTest, StudentJoinedPayload{TestResponseID: responseID})
	readEvent(t, admin, EventStudentJoined)

	sendEvent(t, alice, EventViolationDetected, ViolationDetectedPayload{
		TestResponseID: responseID,
		ViolationType:  "TAB_SWITCH",
	})
	readEvent(t, admin, EventViolationAlert)

	// Room traffic is for admins; another student's socket stays silent.
	got := drainEvents(t, bob, 300*time.Millisecond)
	assert.Empty(t, got, "student socket received room events: %v", got)
}

func TestCrossInstanceFanoutDeliversOnce(t *testing.T) {
	bus := newFakeBus()
	instituteID := uuid.New()
	h1 := newHubHarnessOn(t, bus, instituteID)
	h2 := newHubHarnessOn(t, bus, instituteID)

	admin1 := h1.connect(t, RoleAdmin, "Near")
	admin2 := h2.connect(t, RoleAdmin, "Far")
	student := h1.connect(t, RoleStudent, "Alice")
	waitRoomSize(t, h1, 2)
	waitRoomSize(t, h2, 1)

	responseID := uuid.New()
	sendEvent(t, student, EventStudentStartedTest, StudentJoinedPayload{TestResponseID: responseID})
	sendEvent(t, student, EventViolationDetected, ViolationDetectedPayload{
		TestResponseID: responseID,
		ViolationType:  "TAB_SWITCH",
	})

	// The publishing instance must not double-deliver its own events
	// when the bus echoes them back; the remote instance sees each once.
	near := drainEvents(t, admin1, 500*time.Millisecond)
	far := drainEvents(t, admin2, 500*time.Millisecond)

	assert.Equal(t, 1, countOf(near, EventStudentJoined))
	assert.Equal(t, 1, countOf(near, EventViolationAlert))
	assert.Equal(t, 1, countOf(far, EventStudentJoined))
	assert.Equal(t, 1, countOf(far, EventViolationAlert))
}

func TestStudentDropAnnouncesDisconnect(t *testing.T) {
	h := newHubHarness(t)
	admin := h.connect(t, RoleAdmin, "Proctor")
	student := h.connect(t, RoleStudent, "Alice")
	waitRoomSize(t, h, 2)

	responseID := uuid.New()
	sendEvent(t, student, EventStudentStartedTest, StudentJoinedPayload{TestResponseID: responseID})
	readEvent(t, admin, EventStudentJoined)

	student.Close()

	data := readEvent(t, admin, EventStudentDisconnected)
	var p StudentDisconnectedPayload
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, responseID, p.TestResponseID)
}
