package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/idgen"
)

// MemoryStore implements Store in memory for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]*Event // userID → events in append order
	byKey  map[string]string   // idempotency key → event ID
}

// NewMemoryStore creates an in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]*Event),
		byKey:  make(map[string]string),
	}
}

func (s *MemoryStore) Append(_ context.Context, event *Event) (string, error) {
	if err := event.Validate(); err != nil {
		return "", err
	}

	cp := copyEvent(event)
	if cp.IdempotencyKey == "" {
		cp.IdempotencyKey = ContentHash(cp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[cp.IdempotencyKey]; ok {
		return id, nil
	}
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("evt_")
	}
	s.events[cp.UserID] = append(s.events[cp.UserID], cp)
	s.byKey[cp.IdempotencyKey] = cp.ID
	return cp.ID, nil
}

func (s *MemoryStore) List(_ context.Context, userID string, since time.Time) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Event
	for _, e := range s.events[userID] {
		if !e.Timestamp.Before(since) {
			result = append(result, copyEvent(e))
		}
	}
	SortChronological(result)
	return result, nil
}

func (s *MemoryStore) Users(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.events))
	for u := range s.events {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// copyEvent deep-copies the context so callers cannot mutate stored events.
func copyEvent(e *Event) *Event {
	cp := *e
	if e.Context != nil {
		ctx := *e.Context
		cp.Context = &ctx
	}
	return &cp
}
