// Package schedule keeps the durable registry of one-time and recurring
// tasks and fires them through a runner callback when due.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Runner executes a due record. The orchestrator wires this to a tool
// invocation plus history/fan-out bookkeeping. Firing is at-least-once:
// a record deleted only after its run can fire again if the process dies
// in between, so downstream tools must tolerate duplicates.
type Runner func(ctx context.Context, rec *Record)

type job struct {
	rec    *Record
	nextAt time.Time
}

// Scheduler arms triggers for stored records and fires them on a tick loop.
type Scheduler struct {
	store  Store
	runner Runner
	logger *slog.Logger

	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	jobs    map[string]*job
	started bool

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "scheduler")
		}
	}
}

// WithNow injects a clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the loop interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// NewScheduler creates a scheduler over the given registry store.
func NewScheduler(store Store, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		runner:       runner,
		logger:       slog.Default().With("component", "scheduler"),
		now:          time.Now,
		tickInterval: time.Second,
		jobs:         make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load re-arms triggers for every stored record. Called once at boot:
// one-time records already past due fire on the first tick, late rather
// than never; recurring records resume at their next occurrence.
func (s *Scheduler) Load(ctx context.Context) error {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load schedule registry: %w", err)
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if err := s.armLocked(rec, now); err != nil {
			s.logger.Warn("dropping unarmable record", "id", rec.ID, "error", err)
		}
	}
	s.logger.Info("schedule registry loaded", "records", len(s.jobs))
	return nil
}

// Add durably registers a record and arms its trigger.
func (s *Scheduler) Add(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("schedule record needs an id")
	}
	now := s.now()
	if _, _, err := rec.Next(now); err != nil {
		return err
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.armLocked(rec, now); err != nil {
		return err
	}
	s.logger.Info("schedule added", "id", rec.ID, "session", rec.SessionID, "kind", rec.Kind, "tool", rec.Tool)
	return nil
}

func (s *Scheduler) armLocked(rec *Record, now time.Time) error {
	next, ok, err := rec.Next(now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("record %s has no next firing", rec.ID)
	}
	s.jobs[rec.ID] = &job{rec: cloneRecord(rec), nextAt: next}
	return nil
}

// Cancel removes the trigger and the registry row. Cancelling an unknown id
// is a no-op, not an error.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	return nil
}

// CancelSession removes all of a session's records, for /reset.
func (s *Scheduler) CancelSession(ctx context.Context, sessionID string) error {
	records, err := s.store.List(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := s.Cancel(ctx, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// List returns a session's records.
func (s *Scheduler) List(ctx context.Context, sessionID string) ([]*Record, error) {
	return s.store.List(ctx, sessionID)
}

// Get returns one record by id, or ErrNotFound.
func (s *Scheduler) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

// Start runs the tick loop until ctx is cancelled. It blocks; calling it
// while already started returns nil immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("scheduler started", "tick", s.tickInterval)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.started = false
			s.mu.Unlock()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.runDue(ctx, s.now(), false)
		}
	}
}

// Stop waits for in-flight runs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// RunOnce fires everything due at the injected clock's current time,
// synchronously. For tests.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.runDue(ctx, s.now(), true)
}

// runDue collects due jobs under the lock, advances or disarms them, then
// executes outside the lock. One-time rows leave the store only after their
// run completes, which is what makes firing at-least-once.
func (s *Scheduler) runDue(ctx context.Context, now time.Time, inline bool) {
	s.mu.Lock()
	var due []*Record
	for id, j := range s.jobs {
		if j.nextAt.After(now) {
			continue
		}
		due = append(due, j.rec)
		if j.rec.Kind == KindRecurring {
			next, ok, err := j.rec.Next(now)
			if err != nil || !ok {
				delete(s.jobs, id)
				continue
			}
			j.nextAt = next
		} else {
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	for _, rec := range due {
		if inline {
			s.execute(ctx, rec)
			continue
		}
		s.wg.Add(1)
		go func(rec *Record) {
			defer s.wg.Done()
			s.execute(ctx, rec)
		}(rec)
	}
}

func (s *Scheduler) execute(ctx context.Context, rec *Record) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("schedule runner panicked", "id", rec.ID, "panic", r)
		}
	}()

	s.logger.Info("schedule firing", "id", rec.ID, "session", rec.SessionID, "tool", rec.Tool, "kind", rec.Kind)
	if s.runner != nil {
		s.runner(ctx, rec)
	}
	if rec.Kind == KindOnce {
		if err := s.store.Delete(ctx, rec.ID); err != nil {
			s.logger.Error("failed to remove fired one-time record", "id", rec.ID, "error", err)
		}
	}
}
