package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshWorker_RunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedExpectation(t, "ann", week, 100, 100)
	f.seedExpectation(t, "ben", week, 100, 50)

	_, err := f.svc.AnalyzeUserBehavior(ctx, "ann")
	require.NoError(t, err)

	w := NewRefreshWorker(f.svc, "@every 1h", nil).WithConcurrency(2)

	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the never-analyzed user is stale")

	n, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(25 * time.Hour)
	n, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRefreshWorker_StartStop(t *testing.T) {
	f := newFixture(t)
	w := NewRefreshWorker(f.svc, "@every 1h", nil)

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	assert.Eventually(t, w.Running, time.Second, 5*time.Millisecond)
	w.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.False(t, w.Running())
}

func TestRefreshWorker_InvalidSchedule(t *testing.T) {
	f := newFixture(t)
	err := NewRefreshWorker(f.svc, "not a schedule", nil).Start(context.Background())
	assert.Error(t, err)
}
