package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Server-pushed event types.
const (
	EventNotification    = "notification"
	EventScheduledResult = "scheduled_result"
	EventBridgeStatus    = "bridge_status"
	EventChat            = "chat"
	EventPing            = "ping"
)

// Event is one frame pushed to WebSocket listeners.
type Event struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// sink receives serialized events. deliver reports false when the sink
// cannot keep up; the hub then drops it.
type sink interface {
	deliver(data []byte) bool
	shutdown()
}

// Hub fans events out to every live connection of a session. Publishing
// never blocks: the subscriber set is snapshotted under the read lock and
// writes happen outside it, and a connection whose buffer is full is
// closed and deregistered instead of stalling the publisher.
type Hub struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]map[sink]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]map[sink]struct{}),
	}
}

func (h *Hub) register(sessionID string, s sink) {
	h.mu.Lock()
	set, ok := h.sessions[sessionID]
	if !ok {
		set = make(map[sink]struct{})
		h.sessions[sessionID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(sessionID string, s sink) {
	h.mu.Lock()
	if set, ok := h.sessions[sessionID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	h.mu.Unlock()
}

// Publish delivers an event to every live connection of one session.
func (h *Hub) Publish(sessionID, eventType string, payload any) {
	data, err := h.envelope(eventType, payload)
	if err != nil {
		h.logger.Warn("dropping unserializable event", "type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]sink, 0, len(h.sessions[sessionID]))
	for s := range h.sessions[sessionID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	h.send(sessionID, eventType, data, targets)
}

// Broadcast delivers an event to every connection of every session, used
// for connectivity status that is not session-scoped.
func (h *Hub) Broadcast(eventType string, payload any) {
	data, err := h.envelope(eventType, payload)
	if err != nil {
		h.logger.Warn("dropping unserializable event", "type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	bySession := make(map[string][]sink, len(h.sessions))
	for sessionID, set := range h.sessions {
		targets := make([]sink, 0, len(set))
		for s := range set {
			targets = append(targets, s)
		}
		bySession[sessionID] = targets
	}
	h.mu.RUnlock()

	for sessionID, targets := range bySession {
		h.send(sessionID, eventType, data, targets)
	}
}

func (h *Hub) send(sessionID, eventType string, data []byte, targets []sink) {
	for _, s := range targets {
		if !s.deliver(data) {
			h.logger.Warn("dropping slow websocket listener", "session", sessionID, "type", eventType)
			h.unregister(sessionID, s)
			s.shutdown()
		}
	}
}

func (h *Hub) envelope(eventType string, payload any) ([]byte, error) {
	return json.Marshal(Event{Type: eventType, Payload: payload, Timestamp: h.now()})
}

// listeners reports the live connection count for a session.
func (h *Hub) listeners(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
