package proctoring

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionControl is the slice of the session lifecycle the hub needs:
// admin terminate orders arriving over the socket must finalize the
// attempt through the same path as every other exit.
type SessionControl interface {
	Terminate(ctx context.Context, responseID uuid.UUID, reason string) error
}

// RedisPublisher publishes room events for cross-instance fanout. The
// origin identifies the publishing hub so subscribers can ignore their
// own messages; Redis delivers publishes back to the publisher.
type RedisPublisher interface {
	PublishRoomEvent(instituteID uuid.UUID, origin, event string, payload []byte) error
}

// RedisSubscriber subscribes to a room channel and invokes handler for
// events published to it, including this instance's own.
type RedisSubscriber interface {
	SubscribeRoom(instituteID uuid.UUID, handler func(origin, event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains per-institute monitoring rooms. Admins in a room receive
// every student event for that institute; students are additionally
// indexed by test response so terminate and warning orders can be
// delivered point to point.
type Hub struct {
	// instituteID -> clientID -> client
	rooms map[uuid.UUID]map[string]*Client
	// testResponseID -> student client
	students map[uuid.UUID]*Client
	subs     map[uuid.UUID]func()
	mu       sync.RWMutex

	instanceID string
	sessions   SessionControl
	pub        RedisPublisher
	sub        RedisSubscriber
	log        zerolog.Logger
}

// NewHub creates a monitoring hub.
func NewHub(sessions SessionControl, pub RedisPublisher, sub RedisSubscriber, log zerolog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[string]*Client),
		students:   make(map[uuid.UUID]*Client),
		subs:       make(map[uuid.UUID]func()),
		instanceID: uuid.New().String(),
		sessions:   sessions,
		pub:        pub,
		sub:        sub,
		log:        log.With().Str("component", "proctoring_hub").Logger(),
	}
}

// register adds a client to its institute room, starting the Redis
// subscription when the room comes alive.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.InstituteID] == nil {
		h.rooms[c.InstituteID] = make(map[string]*Client)
		if h.sub != nil {
			instituteID := c.InstituteID
			cancel, err := h.sub.SubscribeRoom(instituteID, func(origin, event string, payload []byte) {
				// Our own publishes already went out locally in Broadcast.
				if origin == h.instanceID {
					return
				}
				h.broadcastLocal(instituteID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[instituteID] = cancel
			} else {
				h.log.Error().Err(err).Str("institute_id", instituteID.String()).Msg("Room subscription failed")
			}
		}
	}
	h.rooms[c.InstituteID][c.ID] = c
	h.mu.Unlock()

	h.log.Debug().
		Str("client_id", c.ID).
		Str("role", c.Role).
		Str("institute_id", c.InstituteID.String()).
		Msg("Client joined monitoring room")
}

// unregister removes a client and tears down the room subscription when
// the last client leaves. Returns whether this client still held the
// student binding for its attempt; a stale connection replaced by a
// reconnect does not, and must not announce a disconnect.
func (h *Hub) unregister(c *Client) bool {
	h.mu.Lock()
	if m, ok := h.rooms[c.InstituteID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, c.InstituteID)
			if cancel, ok := h.subs[c.InstituteID]; ok {
				cancel()
				delete(h.subs, c.InstituteID)
			}
		}
	}
	heldBinding := false
	if c.Role == RoleStudent && c.responseID != uuid.Nil {
		if cur, ok := h.students[c.responseID]; ok && cur == c {
			delete(h.students, c.responseID)
			heldBinding = true
		}
	}
	h.mu.Unlock()
	return heldBinding
}

// bindStudent indexes a student connection by its test response. A
// reconnect with the same response replaces the stale entry, so at most
// one live connection exists per attempt.
func (h *Hub) bindStudent(c *Client, responseID uuid.UUID) {
	h.mu.Lock()
	c.responseID = responseID
	h.students[responseID] = c
	h.mu.Unlock()
}

// broadcastLocal delivers an event to the admins of the room on this
// instance. Students never see room traffic; everything addressed to a
// student goes point to point through SendToStudent. Slow consumers are
// skipped rather than blocking the room.
func (h *Hub) broadcastLocal(instituteID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := Message{Event: event, Data: data}

	h.mu.RLock()
	clients := h.rooms[instituteID]
	h.mu.RUnlock()

	for _, c := range clients {
		if c.Role != RoleAdmin {
			continue
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Broadcast delivers an event to the institute room's admins on this
// instance and publishes it for other instances. The subscription drops
// the echoed copy of our own publish, so local clients see each event
// exactly once.
func (h *Hub) Broadcast(instituteID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.broadcastLocal(instituteID, event, json.RawMessage(data))
	if h.pub != nil {
		if err := h.pub.PublishRoomEvent(instituteID, h.instanceID, event, data); err != nil {
			h.log.Error().Err(err).Msg("Room event publish failed")
		}
	}
}

// SendToStudent delivers an event to the single student connection bound
// to the given test response, if connected to this instance.
func (h *Hub) SendToStudent(responseID uuid.UUID, event string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	h.mu.RLock()
	c, ok := h.students[responseID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case c.send <- Message{Event: event, Data: data}:
		return true
	default:
		return false
	}
}

// RoomSize returns the number of connected clients for an institute.
func (h *Hub) RoomSize(instituteID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[instituteID])
}
