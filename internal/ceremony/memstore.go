package ceremony

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore is a mutex-guarded SessionStore for single-process use.
// Entries expire after the configured TTL so a pending ceremony cannot
// outlive the login session it was parked on.
type MemorySessionStore struct {
	mu    sync.Mutex
	slots map[string]memorySlot
	ttl   time.Duration
	clock func() time.Time
}

type memorySlot struct {
	value    []byte
	deadline time.Time
}

// NewMemorySessionStore creates an empty in-memory session store. Without
// WithTTL entries never expire; servers set the TTL to the login-session
// lifetime.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{slots: make(map[string]memorySlot), clock: time.Now}
}

// WithTTL sets the entry lifetime. Zero or negative keeps entries forever.
func (s *MemorySessionStore) WithTTL(ttl time.Duration) *MemorySessionStore {
	s.ttl = ttl
	return s
}

// WithClock overrides the store clock. Test hook.
func (s *MemorySessionStore) WithClock(clock func() time.Time) *MemorySessionStore {
	s.clock = clock
	return s
}

func (s *MemorySessionStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	s.sweep(now)

	stored := make([]byte, len(value))
	copy(stored, value)
	slot := memorySlot{value: stored}
	if s.ttl > 0 {
		slot.deadline = now.Add(s.ttl)
	}
	s.slots[key] = slot
	return nil
}

func (s *MemorySessionStore) Take(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[key]
	if !ok {
		return nil, false, nil
	}
	delete(s.slots, key)
	if s.expired(slot, s.clock()) {
		return nil, false, nil
	}
	return slot.value, true, nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.slots, key)
	return nil
}

// sweep drops expired entries so abandoned ceremonies do not accumulate.
// Called with the lock held.
func (s *MemorySessionStore) sweep(now time.Time) {
	for key, slot := range s.slots {
		if s.expired(slot, now) {
			delete(s.slots, key)
		}
	}
}

func (s *MemorySessionStore) expired(slot memorySlot, now time.Time) bool {
	return !slot.deadline.IsZero() && now.After(slot.deadline)
}
