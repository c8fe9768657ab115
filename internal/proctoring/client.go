package proctoring

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Heartbeat timing.
const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	maxFrameSize = 64 * 1024
)

// Connection roles.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// Client is one WebSocket connection in a monitoring room.
type Client struct {
	ID          string
	InstituteID uuid.UUID
	Role        string
	UserID      int
	Name        string

	// set once the student announces its attempt
	responseID uuid.UUID

	hub  *Hub
	conn *websocket.Conn
	send chan Message
	log  zerolog.Logger
}

// NewClient wraps an upgraded connection. Run starts the pumps and
// blocks until the connection closes.
func NewClient(hub *Hub, conn *websocket.Conn, instituteID uuid.UUID, role string, userID int, name string, log zerolog.Logger) *Client {
	return &Client{
		ID:          uuid.New().String(),
		InstituteID: instituteID,
		Role:        role,
		UserID:      userID,
		Name:        name,
		hub:         hub,
		conn:        conn,
		send:        make(chan Message, 256),
		log:         log.With().Str("component", "proctoring_client").Str("role", role).Logger(),
	}
}

// Run registers the client and services the connection until it drops.
func (c *Client) Run() {
	c.hub.register(c)
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		heldBinding := c.hub.unregister(c)
		_ = c.conn.Close()
		if heldBinding {
			c.hub.Broadcast(c.InstituteID, EventStudentDisconnected, StudentDisconnectedPayload{
				TestResponseID: c.responseID,
			})
		}
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch c.Role {
		case RoleStudent:
			c.handleStudentEvent(msg)
		case RoleAdmin:
			c.handleAdminEvent(msg)
		}
	}
}

func (c *Client) handleStudentEvent(msg Message) {
	switch msg.Event {
	case EventStudentStartedTest:
		var p StudentJoinedPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.TestResponseID == uuid.Nil {
			return
		}
		p.StudentName = c.Name
		p.UserID = c.UserID
		c.hub.bindStudent(c, p.TestResponseID)
		c.hub.Broadcast(c.InstituteID, EventStudentJoined, p)

	case EventViolationDetected:
		var p ViolationDetectedPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.TestResponseID != c.responseID {
			return
		}
		c.hub.Broadcast(c.InstituteID, EventViolationAlert, ViolationAlertPayload{
			TestResponseID: p.TestResponseID,
			ViolationType:  p.ViolationType,
			StudentName:    c.Name,
		})

	case EventTestAutoSubmitted:
		var p AutoSubmitAlertPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.TestResponseID != c.responseID {
			return
		}
		c.hub.Broadcast(c.InstituteID, EventAutoSubmitAlert, p)
	}
}

func (c *Client) handleAdminEvent(msg Message) {
	switch msg.Event {
	case EventAdminJoinMonitoring:
		// Room membership comes from the token claims; the explicit join
		// is accepted for protocol symmetry.
		c.log.Debug().Str("institute_id", c.InstituteID.String()).Msg("Admin joined monitoring")

	case EventAdminTerminateTest:
		var p AdminTerminatePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.TestResponseID == uuid.Nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.hub.sessions.Terminate(ctx, p.TestResponseID, p.Reason)
		cancel()
		if err != nil {
			c.log.Error().Err(err).
				Str("response_id", p.TestResponseID.String()).
				Msg("Terminate order failed")
			return
		}
		c.hub.SendToStudent(p.TestResponseID, EventTerminateTest, TerminatePayload{Reason: p.Reason})
		c.hub.Broadcast(c.InstituteID, EventAutoSubmitAlert, AutoSubmitAlertPayload{
			TestResponseID: p.TestResponseID,
			SubmitType:     "terminated",
			Reason:         p.Reason,
		})
		c.log.Info().
			Str("response_id", p.TestResponseID.String()).
			Str("admin", p.AdminName).
			Msg("Attempt terminated by admin")

	case EventAdminSendWarning:
		var p AdminWarningPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.TestResponseID == uuid.Nil {
			return
		}
		c.hub.SendToStudent(p.TestResponseID, EventWarningFromAdmin, WarningPayload{Message: p.Message})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
