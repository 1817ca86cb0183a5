package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/metrics"
)

// DefaultRefreshConcurrency bounds how many users are refreshed at once.
const DefaultRefreshConcurrency = 4

// RefreshWorker periodically recomputes analyses that have gone stale for
// every user with recorded events.
type RefreshWorker struct {
	service     *Service
	logger      *slog.Logger
	schedule    string
	concurrency int
	stop        chan struct{}
	running     atomic.Bool
}

// NewRefreshWorker creates a worker that runs on a standard cron schedule
// (descriptors such as "@every 6h" are accepted).
func NewRefreshWorker(service *Service, schedule string, logger *slog.Logger) *RefreshWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshWorker{
		service:     service,
		logger:      logger,
		schedule:    schedule,
		concurrency: DefaultRefreshConcurrency,
		stop:        make(chan struct{}, 1),
	}
}

// WithConcurrency overrides how many users are refreshed in parallel.
func (w *RefreshWorker) WithConcurrency(n int) *RefreshWorker {
	if n > 0 {
		w.concurrency = n
	}
	return w
}

// Running reports whether the worker loop is active.
func (w *RefreshWorker) Running() bool {
	return w.running.Load()
}

// Start schedules refresh runs and blocks until ctx is done or Stop is
// called. Runs never overlap.
func (w *RefreshWorker) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.schedule, func() { w.safeDoWork(ctx) }); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", w.schedule, err)
	}

	w.running.Store(true)
	defer w.running.Store(false)

	c.Start()
	w.logger.Info("profile refresh worker started", "schedule", w.schedule)

	select {
	case <-ctx.Done():
	case <-w.stop:
	}
	<-c.Stop().Done()
	return nil
}

// Stop signals the worker to stop.
func (w *RefreshWorker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *RefreshWorker) safeDoWork(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in refresh worker", "panic", fmt.Sprint(r))
		}
	}()
	if _, err := w.RunOnce(ctx); err != nil {
		w.logger.Error("profile refresh failed", "error", err)
	}
}

// RunOnce refreshes every stale profile and returns how many were
// recomputed. Per-user failures are logged and counted, not returned.
func (w *RefreshWorker) RunOnce(ctx context.Context) (int, error) {
	users, err := w.service.Users(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}
	metrics.TrackedUsers.Set(float64(len(users)))

	var refreshed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, userID := range users {
		g.Go(func() error {
			ok, err := w.service.RefreshIfStale(gctx, userID)
			switch {
			case err != nil:
				metrics.ProfilesRefreshedTotal.WithLabelValues("error").Inc()
				w.logger.Warn("profile refresh failed", "user_id", userID, "error", err)
			case ok:
				refreshed.Add(1)
				metrics.ProfilesRefreshedTotal.WithLabelValues("refreshed").Inc()
			default:
				metrics.ProfilesRefreshedTotal.WithLabelValues("fresh").Inc()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(refreshed.Load()), err
	}

	n := int(refreshed.Load())
	if n > 0 {
		w.logger.Info("stale profiles refreshed", "count", n, "users", len(users))
	}
	return n, nil
}
