package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Store persists session state blobs. Load returns a fresh empty state for
// unknown sessions; sessions come into existence on first save.
type Store interface {
	Load(ctx context.Context, sessionID string) (*State, error)
	Save(ctx context.Context, sessionID string, state *State) error
}

// MemoryStore is an in-memory Store for tests and ephemeral runs. Blobs go
// through JSON on both paths so behavior matches the durable store.
//
// Thread Safety:
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Load returns the stored state, or a fresh one for unknown sessions.
func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*State, error) {
	s.mu.RLock()
	blob, ok := s.blobs[sessionID]
	s.mu.RUnlock()

	if !ok {
		return NewState(), nil
	}
	return decodeState(blob)
}

// Save stores the state, replacing any previous blob.
func (s *MemoryStore) Save(ctx context.Context, sessionID string, state *State) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	s.mu.Lock()
	s.blobs[sessionID] = blob
	s.mu.Unlock()
	return nil
}

func decodeState(blob []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	state.normalize()
	return &state, nil
}
