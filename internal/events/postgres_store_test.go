//go:build integration

package events

import (
	"context"
	"testing"
	"time"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/testutil"
)

func TestPostgres_AppendListIdempotent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	t0 := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	ev := &Event{
		UserID:     "alice",
		Kind:       KindIncident,
		Timestamp:  t0,
		ReasonText: "boiler repair",
		Context:    &IncidentContext{Month: 6, ExpectedAmount: dec("300"), ActualAmount: dec("120.50")},
	}
	id1, err := store.Append(ctx, ev)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	id2, err := store.Append(ctx, ev)
	if err != nil {
		t.Fatalf("replayed Append failed: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected idempotent append, got %s and %s", id1, id2)
	}

	if _, err := store.Append(ctx, &Event{
		UserID: "alice", Kind: KindExpectation, Timestamp: t0.Add(-time.Hour),
		ExpectedAmount: dec("100"), ActualAmount: dec("100"),
	}); err != nil {
		t.Fatal(err)
	}

	got, err := store.List(ctx, "alice", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Kind != KindExpectation || got[1].Kind != KindIncident {
		t.Fatalf("unexpected order: %s, %s", got[0].Kind, got[1].Kind)
	}
	if got[1].Context == nil || got[1].Context.Month != 6 || !got[1].Context.ActualAmount.Equal(*dec("120.5")) {
		t.Fatalf("context not round-tripped: %+v", got[1].Context)
	}
	if !got[0].ExpectedAmount.Equal(*dec("100")) {
		t.Fatalf("amount not round-tripped: %v", got[0].ExpectedAmount)
	}

	users, err := store.Users(ctx)
	if err != nil || len(users) != 1 || users[0] != "alice" {
		t.Fatalf("unexpected users %v (err %v)", users, err)
	}
}

func TestPostgres_AppendTxRollsBack(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendTx(ctx, tx, &Event{UserID: "bob", Kind: KindIncident, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	_ = tx.Rollback()

	got, _ := store.List(ctx, "bob", time.Time{})
	if len(got) != 0 {
		t.Fatalf("expected rollback to discard event, got %d", len(got))
	}
}
