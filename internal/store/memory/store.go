package memory

import (
	"context"
	"sync"
	"time"

	"storefront/internal/store"
)

// Store keeps slots in process memory. It is durable only for the life of the
// process and exists for tests and throwaway sessions.
type Store struct {
	mu    sync.RWMutex
	slots map[string]store.Slot
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		slots: make(map[string]store.Slot),
		now:   time.Now,
	}
}

func (s *Store) Get(_ context.Context, key string) (store.Slot, error) {
	s.mu.RLock()
	slot, ok := s.slots[key]
	s.mu.RUnlock()
	if !ok || slot.Expired(s.now()) {
		return store.Slot{}, store.ErrNotFound
	}
	return slot, nil
}

func (s *Store) Set(_ context.Context, slot store.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot.Key] = slot
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
	return nil
}

// Keys lists the keys currently held, expired or not.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.slots))
	for k := range s.slots {
		out = append(out, k)
	}
	return out
}

var _ store.Slots = (*Store)(nil)
