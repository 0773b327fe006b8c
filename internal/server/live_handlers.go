package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	liveEventHeartbeat       = "heartbeat"
	defaultHeartbeatInterval = 25 * time.Second
	socketReadTimeout        = 60 * time.Second
	socketWriteTimeout       = 10 * time.Second
	socketReadLimit          = 4096
)

var socketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type heartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

func (h *httpHandler) handleLiveStream(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	stream, cleanup := h.hub.Subscribe(ctx, h.optionalPawnID(c))
	defer cleanup()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message := <-stream:
			c.SSEvent(message.Type, message)
			return true
		case <-ticker.C:
			c.SSEvent(liveEventHeartbeat, heartbeatPayload{Timestamp: time.Now().UTC()})
			return true
		}
	})
}

func (h *httpHandler) handleLiveSocket(c *gin.Context) {
	pawnID := h.optionalPawnID(c)
	conn, err := socketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stream, cleanup := h.hub.Subscribe(ctx, pawnID)
	defer cleanup()

	readTimeout := max(socketReadTimeout, 2*h.heartbeat)
	conn.SetReadLimit(socketReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// Clients only listen; the read loop exists to process control frames and notice closes.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-stream:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := conn.WriteJSON(message); err != nil {
				h.logger.Debug("websocket write failed", zap.String("pawn_id", pawnID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
