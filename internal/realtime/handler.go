package realtime

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/streamforge/backend/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 16
)

// Handler upgrades websocket connections and bridges them to the hub
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   logger.Logger
}

// NewHandler creates a new websocket handler
func NewHandler(hub *Hub, log logger.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// Serve handles GET /ws. Clients send subscribe and unsubscribe control
// messages and receive status events for the videos they follow.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.LogWarn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	sub := make(subscriber, sendBuffer)
	done := make(chan struct{})

	go h.writeLoop(conn, sub, done)
	h.readLoop(conn, sub)

	close(done)
	h.hub.Drop(sub)
	conn.Close()
}

func (h *Handler) readLoop(conn *websocket.Conn, sub subscriber) {
	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ControlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.LogDebug("websocket closed", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		if msg.VideoID == "" {
			continue
		}
		switch msg.Action {
		case ActionSubscribe:
			h.hub.Subscribe(msg.VideoID, sub)
		case ActionUnsubscribe:
			h.hub.Unsubscribe(msg.VideoID, sub)
		}
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, sub subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case body := <-sub:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
