package session

import "sync"

// Locker serializes all work for a session. Chat turns, WebSocket frames,
// and scheduled firings for one session queue on the same mutex; work for
// different sessions proceeds in parallel.
//
// The lock is held across a turn's outbound calls on purpose. Only that
// session's next message waits.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the session lock is held and returns the release
// function. The caller must release exactly once.
func (l *Locker) Acquire(sessionID string) func() {
	l.mu.Lock()
	lock, ok := l.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[sessionID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
