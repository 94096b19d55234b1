// Package ingest composes validation, normalization, identity resolution,
// and the change-tracking store into the pipeline that processes raw
// postings.
package ingest

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"jobhunter/events"
	"jobhunter/metrics"
	"jobhunter/normalize"
	"jobhunter/pkg/posting"
	"jobhunter/store"
	"jobhunter/validate"
)

// Result reports how a single raw posting was resolved.
type Result struct {
	RoleID  string
	Status  store.Status
	Changes map[string]store.Change
	// Reasons carries the validation errors for a rejected posting.
	Reasons []string
}

// Summary aggregates a batch run. Per-item failures are isolated: one bad
// posting never aborts the rest of the batch.
type Summary struct {
	New       int
	Updated   int
	Unchanged int
	Rejected  int
	Errored   int
}

func (s *Summary) add(r Result, err error) {
	switch {
	case err != nil:
		s.Errored++
	case r.Status == store.StatusNew:
		s.New++
	case r.Status == store.StatusUpdated:
		s.Updated++
	case r.Status == store.StatusUnchanged:
		s.Unchanged++
	case r.Status == store.StatusRejected:
		s.Rejected++
	}
}

// Orchestrator runs the full pipeline for one raw posting. It is the only
// component that performs a read-modify-write cycle against the store.
type Orchestrator struct {
	store     store.Store
	logger    *slog.Logger
	counters  *metrics.Counters
	publisher events.Publisher
	strict    bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher emits an event for every new or updated role. Publish
// failures are logged, never fatal.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithStrictSources rejects postings whose source is not a known platform.
func WithStrictSources() Option {
	return func(o *Orchestrator) { o.strict = true }
}

// New creates an Orchestrator. counters may be nil.
func New(st store.Store, logger *slog.Logger, counters *metrics.Counters, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     st,
		logger:    logger,
		counters:  counters,
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ingest validates, normalizes, resolves identity, and upserts one posting.
// Validation failures come back as a rejected Result with a nil error; only
// persistence failures return a non-nil error.
func (o *Orchestrator) Ingest(ctx context.Context, raw posting.Raw) (Result, error) {
	verrs := validate.Posting(raw)
	if o.strict {
		verrs = validate.PostingStrict(raw)
	}
	if len(verrs) > 0 {
		o.counters.Inc(metrics.PostingsRejected)
		o.logger.Warn("Posting rejected", "company", raw.Company, "title", raw.Title, "errors", verrs)
		return Result{Status: store.StatusRejected, Reasons: verrs}, nil
	}
	for _, w := range validate.Warnings(raw) {
		o.logger.Debug("Posting quality warning", "company", raw.Company, "warning", w)
	}

	n := normalize.Posting(raw)
	roleID := normalize.RoleID(raw)

	res, err := o.store.Upsert(ctx, roleID, n)
	if err != nil {
		o.counters.Inc(metrics.PostingsErrored)
		return Result{RoleID: roleID}, err
	}

	switch res.Status {
	case store.StatusNew:
		o.counters.Inc(metrics.PostingsNew)
	case store.StatusUpdated:
		o.counters.Inc(metrics.PostingsUpdated)
	case store.StatusUnchanged:
		o.counters.Inc(metrics.PostingsUnchanged)
	}

	if res.Status == store.StatusNew || res.Status == store.StatusUpdated {
		ev := events.Event{RoleID: roleID, Status: res.Status, Changes: res.Changes}
		if perr := o.publisher.Publish(ctx, ev); perr != nil {
			o.logger.Warn("Event publish failed", "role_id", roleID, "error", perr)
		}
	}

	o.logger.Info("Posting ingested", "role_id", roleID, "status", res.Status, "changed_fields", len(res.Changes))
	return Result{RoleID: roleID, Status: res.Status, Changes: res.Changes}, nil
}

// IngestAll processes a batch on a bounded worker pool. The pool bounds
// concurrent store work; per-key serialization is the store's job. Workers
// stop picking up new items once ctx is cancelled.
func (o *Orchestrator) IngestAll(ctx context.Context, raws []posting.Raw, workers int) Summary {
	if workers < 1 {
		workers = 1
	}

	var (
		mu      sync.Mutex
		summary Summary
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, raw := range raws {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := o.Ingest(ctx, raw)
			if err != nil {
				o.logger.Error("Ingestion failed", "company", raw.Company, "title", raw.Title, "error", err)
			}
			mu.Lock()
			summary.add(res, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("Batch ingestion complete",
		"new", summary.New,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"rejected", summary.Rejected,
		"errored", summary.Errored)
	return summary
}
