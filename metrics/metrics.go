// Package metrics provides a snapshotable counter set. It replaces hidden
// global state: the orchestrator and fetcher increment counters on an
// instance the caller owns and can read back after a run.
package metrics

import "sync"

// Counter names used across the pipeline.
const (
	PostingsNew       = "postings_new"
	PostingsUpdated   = "postings_updated"
	PostingsUnchanged = "postings_unchanged"
	PostingsRejected  = "postings_rejected"
	PostingsErrored   = "postings_errored"
	FetchAttempts     = "fetch_attempts"
	FetchRetries      = "fetch_retries"
	FetchFailures     = "fetch_failures"
)

// Counters is a concurrency-safe named counter set.
type Counters struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{counts: make(map[string]int64)}
}

// Inc increments a counter by one. A nil receiver is a no-op, so callers can
// leave metrics unwired.
func (c *Counters) Inc(name string) { c.Add(name, 1) }

// Add increments a counter by n.
func (c *Counters) Add(name string, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counts[name] += n
	c.mu.Unlock()
}

// Get returns the current value of a counter.
func (c *Counters) Get(name string) int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

// Snapshot returns a copy of all counters.
func (c *Counters) Snapshot() map[string]int64 {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
