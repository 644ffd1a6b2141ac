package schedule

import (
	"context"
	"sync"
)

// MemoryStore keeps records in memory. Used by tests and available as a
// non-durable fallback.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Create stores a record.
func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

// Get returns a record by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// Delete removes a record. Deleting an unknown id is a no-op.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return nil
	}
	delete(s.records, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns a session's records in creation order.
func (s *MemoryStore) List(ctx context.Context, sessionID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, id := range s.order {
		if rec := s.records[id]; rec != nil && rec.SessionID == sessionID {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

// ListAll returns every record in creation order.
func (s *MemoryStore) ListAll(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.order))
	for _, id := range s.order {
		if rec := s.records[id]; rec != nil {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func cloneRecord(rec *Record) *Record {
	if rec == nil {
		return nil
	}
	copied := *rec
	if rec.Args != nil {
		copied.Args = make(map[string]any, len(rec.Args))
		for k, v := range rec.Args {
			copied.Args[k] = v
		}
	}
	return &copied
}
