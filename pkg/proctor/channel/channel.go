// Package channel provides the realtime connection to the proctoring
// backend: a websocket client that reconnects forever with capped
// exponential backoff and re-announces presence after each reconnect.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Connection states.
const (
	StateDisconnected int32 = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

const (
	defaultDialTimeout    = 20 * time.Second
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 5 * time.Second

	writeWait = 10 * time.Second
	// The server pings every 30s; a read deadline of three intervals
	// detects a dead peer without our own heartbeat.
	readWait = 90 * time.Second
)

// ErrClosed is returned after Disconnect has been called.
var ErrClosed = errors.New("channel closed")

// ErrNotConnected is returned by Emit while the channel has no live
// connection.
var ErrNotConnected = errors.New("channel not connected")

// Message is the wire frame for every realtime event.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler receives the raw payload of one event. It is an alias so the
// same function type can satisfy transport interfaces elsewhere.
type Handler = func(data json.RawMessage)

// Config controls the channel's endpoint and retry behavior.
type Config struct {
	// URL is the websocket endpoint, e.g. "wss://exam.example.com/ws/v1/proctoring".
	URL string
	// Token is the JWT appended as the token query parameter.
	Token string

	// DialTimeout bounds a single connection attempt. Default 20s.
	DialTimeout time.Duration
	// InitialBackoff is the first retry delay. Default 1s.
	InitialBackoff time.Duration
	// MaxBackoff caps the retry delay. Default 5s.
	MaxBackoff time.Duration

	Logger zerolog.Logger
}

// Channel is a reconnecting websocket connection. Handlers registered
// with On are dispatched from a single read goroutine; Emit is safe for
// concurrent use.
type Channel struct {
	cfg Config
	log zerolog.Logger

	state atomic.Int32

	connMu sync.Mutex
	conn   *websocket.Conn

	handlerMu sync.RWMutex
	handlers  map[string][]Handler
	onConnect []func(reconnected bool)

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a channel for the given config. Connect must be called to
// establish the connection.
func New(cfg Config) *Channel {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "channel").Logger(),
		handlers: make(map[string][]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// On registers a handler for an event. Multiple handlers per event are
// invoked in registration order.
func (c *Channel) On(event string, h Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Off removes all handlers for an event.
func (c *Channel) Off(event string) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	delete(c.handlers, event)
}

// OnConnect registers a callback fired after every successful
// connection. reconnected is false for the first connect and true for
// every automatic reconnect; presence announcements belong here so they
// are repeated after connection loss.
func (c *Channel) OnConnect(fn func(reconnected bool)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// State returns the current connection state.
func (c *Channel) State() int32 { return c.state.Load() }

// IsConnected reports whether a live connection exists.
func (c *Channel) IsConnected() bool { return c.state.Load() == StateConnected }

// Connect establishes the initial connection. After it returns nil the
// channel keeps itself connected until Disconnect is called.
func (c *Channel) Connect() error {
	if c.state.Load() == StateClosed {
		return ErrClosed
	}
	c.state.Store(StateConnecting)

	if err := c.dial(); err != nil {
		c.state.Store(StateDisconnected)
		return fmt.Errorf("connect %s: %w", c.cfg.URL, err)
	}

	c.state.Store(StateConnected)
	c.fireConnect(false)
	go c.readLoop()
	return nil
}

// Disconnect closes the connection and stops all reconnection attempts.
// Safe to call more than once.
func (c *Channel) Disconnect() {
	if c.state.Swap(StateClosed) == StateClosed {
		return
	}
	c.cancel()

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Emit sends one event frame. Returns ErrNotConnected while the channel
// is between connections; callers that must not lose an event should
// re-send it from an OnConnect callback instead of retrying Emit.
func (c *Channel) Emit(event string, data interface{}) error {
	if c.state.Load() == StateClosed {
		return ErrClosed
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil || c.state.Load() != StateConnected {
		return ErrNotConnected
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(Message{Event: event, Data: payload}); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (c *Channel) dial() error {
	endpoint, err := url.Parse(c.cfg.URL)
	if err != nil {
		return err
	}
	query := endpoint.Query()
	query.Set("token", c.cfg.Token)
	endpoint.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.Dial(endpoint.String(), nil)
	if err != nil {
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

func (c *Channel) readLoop() {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if c.state.Load() == StateClosed {
				return
			}
			c.log.Warn().Err(err).Msg("Connection lost, reconnecting")
			go c.reconnectLoop()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg Message) {
	c.handlerMu.RLock()
	handlers := c.handlers[msg.Event]
	c.handlerMu.RUnlock()

	if len(handlers) == 0 {
		c.log.Debug().Str("event", msg.Event).Msg("No handler for event")
		return
	}
	for _, h := range handlers {
		h(msg.Data)
	}
}

// reconnectLoop retries forever with capped exponential backoff until a
// connection is established or the channel is closed.
func (c *Channel) reconnectLoop() {
	c.state.Store(StateReconnecting)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialBackoff
	policy.MaxInterval = c.cfg.MaxBackoff
	policy.MaxElapsedTime = 0 // retry forever

	attempt := 0
	err := backoff.Retry(func() error {
		if c.state.Load() == StateClosed {
			return backoff.Permanent(ErrClosed)
		}
		attempt++
		if err := c.dial(); err != nil {
			c.log.Debug().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
			return err
		}
		return nil
	}, backoff.WithContext(policy, c.ctx))
	if err != nil {
		// Only Disconnect can break an unbounded retry.
		c.state.Store(StateClosed)
		return
	}

	c.state.Store(StateConnected)
	c.log.Info().Int("attempts", attempt).Msg("Reconnected")
	c.fireConnect(true)
	go c.readLoop()
}

func (c *Channel) fireConnect(reconnected bool) {
	c.handlerMu.RLock()
	callbacks := make([]func(bool), len(c.onConnect))
	copy(callbacks, c.onConnect)
	c.handlerMu.RUnlock()

	for _, fn := range callbacks {
		fn(reconnected)
	}
}
