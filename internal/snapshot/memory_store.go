package snapshot

import (
	"context"
	"sort"
	"sync"
)

type storeKey struct {
	user string
	kind Kind
}

// MemoryStore implements Store in memory for demo/test use.
type MemoryStore struct {
	mu    sync.RWMutex
	byKey map[storeKey][]*Snapshot // oldest first
	ids   map[string]struct{}
}

// NewMemoryStore creates an in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey: make(map[storeKey][]*Snapshot),
		ids:   make(map[string]struct{}),
	}
}

func (m *MemoryStore) Put(_ context.Context, snap *Snapshot) error {
	if err := snap.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ids[snap.ID]; ok {
		return nil
	}
	k := storeKey{snap.UserID, snap.Kind}
	list := m.byKey[k]
	if n := len(list); n > 0 && !snap.TakenAt.After(list[n-1].TakenAt) {
		return ErrOutOfOrder
	}
	m.byKey[k] = append(list, copySnapshot(snap))
	m.ids[snap.ID] = struct{}{}
	return nil
}

func (m *MemoryStore) Latest(_ context.Context, userID string, kind Kind) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.byKey[storeKey{userID, kind}]
	if len(list) == 0 {
		return nil, nil
	}
	return copySnapshot(list[len(list)-1]), nil
}

func (m *MemoryStore) History(_ context.Context, q HistoryQuery) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kinds := []Kind{q.Kind}
	if q.Kind == "" {
		kinds = []Kind{KindBehaviorAnalysis, KindRiskAssessment}
	}

	var results []*Snapshot
	for _, kind := range kinds {
		for _, s := range m.byKey[storeKey{q.UserID, kind}] {
			if !q.From.IsZero() && s.TakenAt.Before(q.From) {
				continue
			}
			if !q.To.IsZero() && s.TakenAt.After(q.To) {
				continue
			}
			results = append(results, copySnapshot(s))
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TakenAt.After(results[j].TakenAt)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func copySnapshot(s *Snapshot) *Snapshot {
	cp := *s
	cp.Payload = append([]byte(nil), s.Payload...)
	return &cp
}
