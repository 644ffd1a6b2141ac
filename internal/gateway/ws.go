package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/valet/internal/auth"
	"github.com/haasonsaas/valet/internal/session"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsSendBuffer      = 64
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

// clientFrame is what a WebSocket client may send. Chat frames carry their
// own token so a single connection can be opened before credentials are
// known and re-authenticated per message.
type clientFrame struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
}

// wsConn is one upgraded WebSocket connection bound to the session that
// authenticated the upgrade request.
type wsConn struct {
	server    *Server
	conn      *websocket.Conn
	sessionID string
	logger    *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := auth.SessionFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		server:    s,
		conn:      conn,
		sessionID: sessionID,
		logger:    s.logger.With("session", sessionID),
		send:      make(chan []byte, wsSendBuffer),
		done:      make(chan struct{}),
	}

	s.hub.register(sessionID, c)
	if s.metrics != nil {
		s.metrics.WSConnected()
	}
	c.logger.Info("websocket connected", "remote_addr", r.RemoteAddr)

	go c.writeLoop()
	c.readLoop()
}

// deliver enqueues an already-serialized event without blocking. It reports
// false when the connection is gone or its buffer is full.
func (c *wsConn) deliver(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsConn) shutdown() { c.close() }

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.server.hub.unregister(c.sessionID, c)
		if c.server.metrics != nil {
			c.server.metrics.WSDisconnected()
		}
		close(c.done)
		_ = c.conn.Close()
		c.logger.Info("websocket disconnected")
	})
}

func (c *wsConn) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) handleFrame(data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendEvent(EventNotification, map[string]any{"error": "invalid frame"})
		return
	}

	switch frame.Type {
	case "ping":
		c.sendEvent(EventPing, nil)
	case "chat":
		// Chat turns can take many seconds; handle off the read loop so
		// pong frames keep flowing and the connection stays alive.
		go c.handleChat(frame)
	default:
		c.sendEvent(EventNotification, map[string]any{"error": "unknown frame type"})
	}
}

func (c *wsConn) handleChat(frame clientFrame) {
	sessionID, err := c.server.auth.Validate(frame.Token)
	if err != nil {
		c.sendEvent(EventNotification, map[string]any{"error": "unauthorized"})
		return
	}

	// The turn runs to completion even if the socket dies underneath it,
	// so the session history never records half a turn.
	reply, err := c.server.orch.HandleMessage(context.Background(), sessionID, frame.Message)
	if err != nil {
		var rle *session.RateLimitError
		switch {
		case errors.As(err, &rle):
			c.sendEvent(EventNotification, map[string]any{
				"error":      "rate limit exceeded",
				"retryAfter": retryAfterSeconds(rle.RetryAfter),
			})
		case errors.Is(err, session.ErrEmptyMessage):
			c.sendEvent(EventNotification, map[string]any{"error": "message is required"})
		default:
			c.logger.Error("websocket chat failed", "error", err)
			c.sendEvent(EventNotification, map[string]any{"error": "internal error"})
		}
		return
	}

	c.sendEvent(EventChat, reply)
}

func (c *wsConn) sendEvent(eventType string, payload any) {
	data, err := c.server.hub.envelope(eventType, payload)
	if err != nil {
		c.logger.Warn("dropping unserializable event", "type", eventType, "error", err)
		return
	}
	if !c.deliver(data) {
		c.close()
	}
}
