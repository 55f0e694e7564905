package cooldown

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps expiry times in a map. State is lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	once    bool
	now     Clock
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		ttl:     opts.TTL,
		once:    opts.Once,
		now:     opts.clock(),
	}
}

func (s *MemoryStore) Contains(_ context.Context, sender string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.entries[sender]
	if !ok {
		return false, nil
	}
	if s.expired(expiresAt, s.now()) {
		delete(s.entries, sender)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Mark(_ context.Context, sender string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if !s.once {
		expiresAt = s.now().Add(s.ttl)
	}
	s.entries[sender] = expiresAt
	return nil
}

func (s *MemoryStore) Release(_ context.Context, sender string) error {
	s.mu.Lock()
	delete(s.entries, sender)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for sender, expiresAt := range s.entries {
		if s.expired(expiresAt, now) {
			delete(s.entries, sender)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, expiresAt := range s.entries {
		if !s.expired(expiresAt, now) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) expired(expiresAt, now time.Time) bool {
	if s.once {
		return false
	}
	return !now.Before(expiresAt)
}
