package channel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer accepts websocket connections and hands them to the test.
type wsServer struct {
	server *httptest.Server
	conns  chan *websocket.Conn
	tokens chan string
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		conns:  make(chan *websocket.Conn, 8),
		tokens: make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.tokens <- r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no websocket connection arrived")
		return nil
	}
}

func newTestChannel(s *wsServer) *Channel {
	return New(Config{
		URL:            s.url(),
		Token:          "test-token",
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
}

func TestConnectSendsTokenAndReceivesEvents(t *testing.T) {
	s := newWSServer(t)
	c := newTestChannel(s)

	received := make(chan json.RawMessage, 1)
	c.On("warning-from-admin", func(data json.RawMessage) {
		received <- data
	})

	require.NoError(t, c.Connect())
	defer c.Disconnect()
	assert.True(t, c.IsConnected())
	assert.Equal(t, "test-token", <-s.tokens)

	conn := s.accept(t)
	require.NoError(t, conn.WriteJSON(Message{
		Event: "warning-from-admin",
		Data:  json.RawMessage(`{"message":"eyes on screen"}`),
	}))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"message":"eyes on screen"}`, string(data))
	case <-time.After(3 * time.Second):
		t.Fatal("event never dispatched")
	}
}

func TestEmitReachesServer(t *testing.T) {
	s := newWSServer(t)
	c := newTestChannel(s)
	require.NoError(t, c.Connect())
	defer c.Disconnect()

	conn := s.accept(t)
	require.NoError(t, c.Emit("student-started-test", map[string]string{"student_name": "Alice"}))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "student-started-test", msg.Event)
	assert.JSONEq(t, `{"student_name":"Alice"}`, string(msg.Data))
}

func TestReconnectAfterServerDrop(t *testing.T) {
	s := newWSServer(t)
	c := newTestChannel(s)

	var mu sync.Mutex
	var connects []bool
	c.OnConnect(func(reconnected bool) {
		mu.Lock()
		connects = append(connects, reconnected)
		mu.Unlock()
	})

	require.NoError(t, c.Connect())
	defer c.Disconnect()

	first := s.accept(t)
	first.Close() // server-side drop

	second := s.accept(t)
	defer second.Close()

	require.Eventually(t, func() bool {
		return c.IsConnected()
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, connects, 2)
	assert.False(t, connects[0], "first connect is not a reconnect")
	assert.True(t, connects[1], "second connect is a reconnect")
}

func TestEmitWhileDisconnectedFails(t *testing.T) {
	s := newWSServer(t)
	c := newTestChannel(s)

	assert.ErrorIs(t, c.Emit("violation-detected", nil), ErrNotConnected)

	require.NoError(t, c.Connect())
	c.Disconnect()
	assert.ErrorIs(t, c.Emit("violation-detected", nil), ErrClosed)
	assert.Equal(t, StateClosed, c.State())
}
