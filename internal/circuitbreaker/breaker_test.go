package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, open time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(threshold, open)
	b.now = clk.now
	return b, clk
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	if !b.Allow("event_store") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure("event_store")
	b.RecordFailure("event_store")
	if !b.Allow("event_store") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("event_store")
	if b.Allow("event_store") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("event_store") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("event_store"))
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clk := newTestBreaker(2, time.Minute)

	b.RecordFailure("profile_store")
	b.RecordFailure("profile_store")
	if b.Allow("profile_store") {
		t.Fatal("should be open")
	}

	clk.advance(time.Minute)
	if !b.Allow("profile_store") {
		t.Fatal("should allow a trial call in half-open")
	}
	if b.Allow("profile_store") {
		t.Fatal("should reject second call while probing")
	}

	b.RecordSuccess("profile_store")
	if b.State("profile_store") != StateClosed {
		t.Fatalf("expected StateClosed after a successful trial call, got %v", b.State("profile_store"))
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(2, time.Minute)

	b.RecordFailure("svc")
	b.RecordFailure("svc")
	clk.advance(2 * time.Minute)
	b.Allow("svc")

	b.RecordFailure("svc")
	if b.State("svc") != StateOpen {
		t.Fatalf("expected StateOpen after half-open failure, got %v", b.State("svc"))
	}
}

func TestBreaker_IndependentKeys(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	b.RecordFailure("event_store")
	b.RecordFailure("event_store")

	if b.Allow("event_store") {
		t.Fatal("event_store should be open")
	}
	if !b.Allow("profile_store") {
		t.Fatal("profile_store should be closed")
	}
}

func TestBreaker_ExecuteShortCircuits(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	boom := errors.New("boom")

	if err := b.Execute("svc", nil, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	called := false
	err := b.Execute("svc", nil, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatal("fn must not run while open")
	}
}

func TestBreaker_ExecuteIgnoredErrorsDoNotTrip(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	ignore := func(err error) bool { return errors.Is(err, context.Canceled) }

	for i := 0; i < 5; i++ {
		_ = b.Execute("svc", ignore, func() error { return context.Canceled })
	}
	if b.State("svc") != StateClosed {
		t.Fatalf("ignored errors tripped the breaker: %v", b.State("svc"))
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
