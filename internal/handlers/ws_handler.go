package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tutorbridge/meeting-agent/internal/session"
	"github.com/tutorbridge/meeting-agent/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The control API only binds to loopback.
		return true
	},
}

// WebSocketHandler upgrades local UI connections and feeds them
// session-state snapshots through the hub.
type WebSocketHandler struct {
	hub        *ws.Hub
	controller session.Controller
	log        zerolog.Logger
}

func NewWebSocketHandler(hub *ws.Hub, controller session.Controller, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:        hub,
		controller: controller,
		log:        log.With().Str("component", "ws-handler").Logger(),
	}
}

// HandleWebSocket upgrades the connection, registers it with the hub
// and pushes the current snapshot so the UI renders immediately.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := h.hub.Add(conn)
	h.log.Debug().Str("client", client.ID.String()).Msg("local ui connected")

	select {
	case client.Send <- h.controller.Snapshot():
	default:
	}
}
