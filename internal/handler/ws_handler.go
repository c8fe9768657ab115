package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/provexa/proctor-backend/internal/middleware"
	"github.com/provexa/proctor-backend/internal/proctoring"
	"github.com/provexa/proctor-backend/internal/repository"
	"github.com/provexa/proctor-backend/internal/service"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allow list permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler upgrades connections into the proctoring hub.
type WSHandler struct {
	hub        *proctoring.Hub
	rosterRepo *repository.RosterRepository
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *proctoring.Hub, rosterRepo *repository.RosterRepository, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:        hub,
		rosterRepo: rosterRepo,
		log:        log.With().Str("component", "ws_handler").Logger(),
		upgrader:   buildUpgrader(allowedOrigins),
	}
}

// ProctoringStream godoc
// WS /ws/v1/proctoring?token=...
// Joins the caller to their institute's monitoring room. The role comes
// from the token: exam tokens join as students, admin tokens as admins.
func (h *WSHandler) ProctoringStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	instituteID, err := uuid.Parse(claims.InstituteID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid institute scope"})
		return
	}

	role := proctoring.RoleAdmin
	name := ""
	if claims.TokenType == service.TokenTypeExam {
		role = proctoring.RoleStudent
		ts, err := h.rosterRepo.GetByID(c.Request.Context(), claims.TestStudentID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown roster entry"})
			return
		}
		name = ts.Name
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.log.Info().
		Str("role", role).
		Int("user_id", claims.UserID).
		Str("institute_id", instituteID.String()).
		Msg("Proctoring client connected")

	client := proctoring.NewClient(h.hub, conn, instituteID, role, claims.UserID, name, h.log)
	client.Run()
}
