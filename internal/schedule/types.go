package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/valet/internal/temporal"
)

// Kind discriminates one-shot from recurring records.
type Kind string

const (
	KindOnce      Kind = "once"
	KindRecurring Kind = "recurring"
)

// ErrNotFound reports a lookup of an unknown record id.
var ErrNotFound = errors.New("schedule not found")

// Record is one durable scheduled task. Records are immutable once created:
// they are only ever deleted, by cancellation or after a one-time firing.
type Record struct {
	ID          string
	SessionID   string
	Kind        Kind
	At          time.Time
	Expr        string
	Tool        string
	Args        map[string]any
	Description string
	CreatedAt   time.Time
}

// TypeLabel is the wire name for Kind.
func (r *Record) TypeLabel() string {
	if r.Kind == KindRecurring {
		return "recurring"
	}
	return "one-time"
}

// When renders the trigger for display: the cron expression for recurring
// records, the RFC 3339 instant for one-time records.
func (r *Record) When() string {
	if r.Kind == KindRecurring {
		return r.Expr
	}
	return r.At.Format(time.RFC3339)
}

// Next computes the record's next firing after now. A one-time record keeps
// its instant even when it is already past: it fires late rather than never.
func (r *Record) Next(now time.Time) (time.Time, bool, error) {
	switch r.Kind {
	case KindOnce:
		if r.At.IsZero() {
			return time.Time{}, false, fmt.Errorf("one-time record %s has no instant", r.ID)
		}
		return r.At, true, nil
	case KindRecurring:
		sched, err := temporal.Parser.Parse(r.Expr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse expression %q: %w", r.Expr, err)
		}
		return sched.Next(now), true, nil
	}
	return time.Time{}, false, fmt.Errorf("unknown schedule kind %q", r.Kind)
}

// Store persists schedule records.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, sessionID string) ([]*Record, error)
	ListAll(ctx context.Context) ([]*Record, error)
}
