// Package ratelimit implements the per-session fixed-window request counter.
// It is the only backpressure protecting the completion service and the
// execution agent from bursts, so the orchestrator checks it before any
// other work on an inbound message.
package ratelimit

import "time"

const (
	DefaultLimit  = 60
	DefaultWindow = time.Minute
)

// Window is one session's current counting window. It lives inside the
// session state blob, which keeps it under the session's single-writer
// discipline and makes it survive restarts.
type Window struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"resetAt"`
}

// Result reports the outcome of a single check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// Limiter applies a fixed-window policy to session windows.
type Limiter struct {
	limit  int
	window time.Duration
}

// New creates a limiter. Non-positive arguments fall back to the defaults.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{limit: limit, window: window}
}

// Check counts one request against w at now. The window resets once now
// reaches ResetAt; a zero-value Window starts a fresh window on first use.
func (l *Limiter) Check(w *Window, now time.Time) Result {
	if !now.Before(w.ResetAt) {
		w.Count = 0
		w.ResetAt = now.Add(l.window)
	}
	w.Count++
	remaining := l.limit - w.Count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   w.Count <= l.limit,
		Remaining: remaining,
		ResetIn:   w.ResetAt.Sub(now),
	}
}

// Limit returns the configured per-window maximum.
func (l *Limiter) Limit() int { return l.limit }
