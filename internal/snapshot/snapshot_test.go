package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"
)

type payload struct {
	Value int `json:"value"`
}

func mustNew(t *testing.T, user string, kind Kind, at time.Time, v int) *Snapshot {
	t.Helper()
	s, err := New(user, kind, at, payload{Value: v})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMemoryStore_LatestAndHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := store.Put(ctx, mustNew(t, "alice", KindBehaviorAnalysis, t0.Add(time.Duration(i)*time.Hour), i)); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	if err := store.Put(ctx, mustNew(t, "alice", KindRiskAssessment, t0.Add(30*time.Minute), 99)); err != nil {
		t.Fatal(err)
	}

	latest, err := store.Latest(ctx, "alice", KindBehaviorAnalysis)
	if err != nil {
		t.Fatal(err)
	}
	var p payload
	if err := latest.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Value != 2 {
		t.Errorf("expected latest value 2, got %d", p.Value)
	}

	all, _ := store.History(ctx, HistoryQuery{UserID: "alice"})
	if len(all) != 4 {
		t.Fatalf("expected 4 snapshots, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].TakenAt.After(all[i-1].TakenAt) {
			t.Fatal("history not newest first")
		}
	}

	risks, _ := store.History(ctx, HistoryQuery{UserID: "alice", Kind: KindRiskAssessment})
	if len(risks) != 1 {
		t.Errorf("expected 1 risk snapshot, got %d", len(risks))
	}
	limited, _ := store.History(ctx, HistoryQuery{UserID: "alice", Limit: 2, From: t0.Add(time.Minute)})
	if len(limited) != 2 {
		t.Errorf("expected 2 limited snapshots, got %d", len(limited))
	}
}

func TestMemoryStore_LatestMissing(t *testing.T) {
	store := NewMemoryStore()
	got, err := store.Latest(context.Background(), "nobody", KindBehaviorAnalysis)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

func TestMemoryStore_PutIdempotentAndOrdered(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	s := mustNew(t, "bob", KindRiskAssessment, t0, 1)
	if err := store.Put(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("replayed Put should succeed, got %v", err)
	}

	same := mustNew(t, "bob", KindRiskAssessment, t0, 2)
	if err := store.Put(ctx, same); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder for equal time, got %v", err)
	}
	older := mustNew(t, "bob", KindRiskAssessment, t0.Add(-time.Second), 3)
	if err := store.Put(ctx, older); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder for older time, got %v", err)
	}

	hist, _ := store.History(ctx, HistoryQuery{UserID: "bob"})
	if len(hist) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(hist))
	}
}

func TestMemoryStore_RejectsInvalid(t *testing.T) {
	store := NewMemoryStore()
	err := store.Put(context.Background(), &Snapshot{ID: "x", UserID: "u", Kind: "bogus", TakenAt: time.Now(), Payload: []byte("{}")})
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, mustNew(t, "u", KindBehaviorAnalysis, time.Now(), 1))

	got, _ := store.Latest(ctx, "u", KindBehaviorAnalysis)
	got.Payload[0] = 'X'

	again, _ := store.Latest(ctx, "u", KindBehaviorAnalysis)
	if again.Payload[0] == 'X' {
		t.Fatal("stored payload mutated through returned snapshot")
	}
}

func TestNextTakenAt(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	if got := NextTakenAt(nil, t0); !got.Equal(t0) {
		t.Errorf("expected now without a latest snapshot, got %v", got)
	}
	latest := &Snapshot{TakenAt: t0}
	if got := NextTakenAt(latest, t0); !got.After(t0) {
		t.Errorf("expected strictly later time, got %v", got)
	}
	if got := NextTakenAt(latest, t0.Add(-time.Hour)); !got.After(t0) {
		t.Errorf("expected strictly later time for clock skew, got %v", got)
	}
	if got := NextTakenAt(latest, t0.Add(time.Hour)); !got.Equal(t0.Add(time.Hour)) {
		t.Errorf("expected now when already later, got %v", got)
	}
}
