package lease

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	holder  string
	expires time.Time
}

// MemoryStore is a process-local Store. Useful for tests and single-instance runs.
type MemoryStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]memEntry
}

// NewMemoryStore uses clock for expiry; nil means time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{now: clock, items: map[string]memEntry{}}
}

// live returns the unexpired entry for key. Caller holds mu.
func (s *MemoryStore) live(key string) (memEntry, bool) {
	e, ok := s.items[key]
	if !ok {
		return memEntry{}, false
	}
	if !s.now().Before(e.expires) {
		delete(s.items, key)
		return memEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) Acquire(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.items[key] = memEntry{holder: holder, expires: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Holder(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _ := s.live(key)
	return e.holder, nil
}

func (s *MemoryStore) Renew(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok || e.holder != holder {
		return false, nil
	}
	e.expires = s.now().Add(ttl)
	s.items[key] = e
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key, holder string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok || e.holder != holder {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}
