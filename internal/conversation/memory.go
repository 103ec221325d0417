package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/sensai/pkg/types"
)

// MemoryStore is an in-memory [Store]. It is the reference implementation for
// tests and suffices for single-process deployments that can afford to lose
// history on restart.
//
// All methods are safe for concurrent use; a single mutex serialises updates,
// which also provides the per-conversation ordering guarantee.
type MemoryStore struct {
	maxHistory int

	mu       sync.RWMutex
	contexts map[string]*Context

	// now is swappable for GC tests.
	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore capping each conversation at
// maxHistory entries. Negative values select [DefaultMaxHistory]; zero is
// honoured as a real cap (appends succeed, entries stay empty).
func NewMemoryStore(maxHistory int) *MemoryStore {
	if maxHistory < 0 {
		maxHistory = DefaultMaxHistory
	}
	return &MemoryStore{
		maxHistory: maxHistory,
		contexts:   make(map[string]*Context),
		now:        time.Now,
	}
}

// Get implements [Store]. The returned context is a deep copy.
func (s *MemoryStore) Get(_ context.Context, id string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[id]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

// Put implements [Store]. The stored context is a deep copy of c.
func (s *MemoryStore) Put(_ context.Context, id string, c *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := c.Clone()
	stored.ConversationID = id
	stored.Entries = trimEntries(stored.Entries, s.maxHistory)
	s.contexts[id] = stored
	return nil
}

// AppendEntry implements [Store].
func (s *MemoryStore) AppendEntry(_ context.Context, id string, entry types.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.contexts[id]
	if !ok {
		c = &Context{ConversationID: id, CreatedAt: now}
		s.contexts[id] = c
	}
	c.Entries = trimEntries(append(c.Entries, entry), s.maxHistory)
	c.UpdatedAt = now
	return nil
}

// GC implements [Store].
func (s *MemoryStore) GC(_ context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	deleted := 0
	for id, c := range s.contexts {
		if c.UpdatedAt.Before(cutoff) {
			delete(s.contexts, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of stored conversations. Primarily for tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}
