package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is the single-process Store used without REDIS_URL.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, draft Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveLocked(draft.ID); ok {
		return fmt.Errorf("draft %s already exists", draft.ID)
	}
	return s.putLocked(draft)
}

func (s *MemoryStore) Get(_ context.Context, id string) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveLocked(id)
	if !ok {
		return Draft{}, ErrNotFound
	}
	return decodeDraft(entry.data)
}

func (s *MemoryStore) Save(_ context.Context, draft Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveLocked(draft.ID); !ok {
		return ErrNotFound
	}
	return s.putLocked(draft)
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) liveLocked(id string) (memoryEntry, bool) {
	entry, ok := s.entries[id]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, id)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryStore) putLocked(draft Draft) error {
	data, err := encodeDraft(draft)
	if err != nil {
		return err
	}
	s.entries[draft.ID] = memoryEntry{data: data, expiresAt: s.now().Add(s.ttl)}
	return nil
}
