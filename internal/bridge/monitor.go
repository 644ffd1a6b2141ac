package bridge

import (
	"context"
	"log/slog"
	"time"
)

// Status is one connectivity probe outcome.
type Status struct {
	Connected bool      `json:"connected"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Monitor periodically probes the execution agent and reports connectivity
// transitions, feeding the bridge_status events pushed to live listeners.
type Monitor struct {
	client   *Client
	interval time.Duration
	logger   *slog.Logger
	onChange func(Status)

	now  func() time.Time
	last *bool
}

// NewMonitor creates a monitor. onChange fires for the first probe and for
// every transition after it.
func NewMonitor(client *Client, interval time.Duration, logger *slog.Logger, onChange func(Status)) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		client:   client,
		interval: interval,
		logger:   logger.With("component", "bridge-monitor"),
		onChange: onChange,
		now:      time.Now,
	}
}

// Run probes immediately, then on every tick until ctx is done. It blocks;
// callers start it on its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe performs a single health check and reports a transition if any.
func (m *Monitor) Probe(ctx context.Context) Status {
	connected := m.client.Health(ctx)
	status := Status{Connected: connected, CheckedAt: m.now()}

	changed := m.last == nil || *m.last != connected
	m.last = &connected
	if changed {
		if connected {
			m.logger.Info("execution agent reachable")
		} else {
			m.logger.Warn("execution agent unreachable")
		}
		if m.onChange != nil {
			m.onChange(status)
		}
	}
	return status
}
