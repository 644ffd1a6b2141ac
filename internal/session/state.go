package session

import (
	"time"

	"github.com/haasonsaas/valet/internal/ratelimit"
	"github.com/haasonsaas/valet/pkg/models"
)

// maxHistory bounds both prompt size and storage. Oldest entries are
// evicted first.
const maxHistory = 50

// State is the durable per-session record. It is serialized as a single
// JSON blob and owned by exactly one writer at a time (see Locker), so
// none of its methods take locks.
type State struct {
	// History holds the most recent conversation turns, oldest first.
	History []models.Message `json:"history"`

	// Preferences are free-form user-declared facts. They persist until
	// overwritten and survive Reset.
	Preferences map[string]string `json:"preferences"`

	// Pending is the at-most-one action waiting on user confirmation or
	// clarification. Nil while idle.
	Pending *models.PendingAction `json:"pendingAction,omitempty"`

	// Rate is the current fixed-window counter for this session.
	Rate ratelimit.Window `json:"rateLimit"`

	// LastActive is updated on every mutating operation.
	LastActive time.Time `json:"lastActive"`
}

// NewState returns an empty session state with initialized maps.
func NewState() *State {
	return &State{
		History:     []models.Message{},
		Preferences: map[string]string{},
	}
}

// Append adds a turn to history, evicting the oldest entries beyond the cap.
func (s *State) Append(role models.Role, content string, at time.Time) {
	s.History = append(s.History, models.Message{
		Role:      role,
		Content:   content,
		Timestamp: at,
	})
	if len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
}

// Touch records activity.
func (s *State) Touch(now time.Time) {
	s.LastActive = now
}

// normalize repairs zero values after JSON decoding so callers never see
// nil maps or nil history.
func (s *State) normalize() {
	if s.History == nil {
		s.History = []models.Message{}
	}
	if s.Preferences == nil {
		s.Preferences = map[string]string{}
	}
}
