// Package watch runs the periodic crawl-and-sweep cycle.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"jobhunter/store"
)

// Watcher wraps robfig/cron around a crawl function and the staleness
// sweeper. Cycles never overlap; a tick that fires while the previous cycle
// is still running is skipped.
type Watcher struct {
	cron          *cron.Cron
	store         store.Store
	crawl         func(ctx context.Context)
	logger        *slog.Logger
	spec          string
	retentionDays int
}

// New creates a Watcher that fires every intervalHours hours and sweeps
// records older than retentionDays after each crawl.
func New(st store.Store, crawl func(ctx context.Context), logger *slog.Logger, intervalHours, retentionDays int) *Watcher {
	return &Watcher{
		cron:          cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		store:         st,
		crawl:         crawl,
		logger:        logger,
		spec:          fmt.Sprintf("@every %dh", intervalHours),
		retentionDays: retentionDays,
	}
}

// Start registers the cycle and starts the scheduler. One cycle runs
// immediately so the store is populated without waiting for the first tick.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := w.cron.AddFunc(w.spec, func() { w.runCycle(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	w.cron.Start()
	w.logger.Info("Watch started", "spec", w.spec, "retention_days", w.retentionDays)

	go w.runCycle(ctx)
	return nil
}

// Stop shuts the scheduler down and waits for a running cycle to finish.
func (w *Watcher) Stop() {
	stopCtx := w.cron.Stop()
	<-stopCtx.Done()
	w.logger.Info("Watch stopped")
}

func (w *Watcher) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	w.logger.Info("Cycle started")

	w.crawl(ctx)

	before, after, err := w.store.DeleteStale(ctx, w.retentionDays)
	if err != nil {
		w.logger.Error("Staleness sweep failed", "error", err)
	} else if before != after {
		w.logger.Info("Stale roles removed", "before", before, "after", after, "removed", before-after)
	}

	w.logger.Info("Cycle complete", "duration", time.Since(start).Round(time.Millisecond))
}
