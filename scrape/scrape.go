// Package scrape implements the acquisition adapters that turn ATS posting
// pages into raw posting records. Each platform adapter knows its URL shape
// and page structure; everything network-facing goes through the shared
// Fetcher, which layers retry-with-backoff and an optional circuit breaker
// around plain HTTP GETs.
package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jobhunter/metrics"
	"jobhunter/pkg/posting"
	"jobhunter/resilience"
)

const maxBodyBytes = 4 << 20 // ATS pages are small; anything bigger is junk

// Adapter is the capability interface every ATS platform implements.
type Adapter interface {
	// Platform returns the source tag, e.g. "greenhouse".
	Platform() string
	// Parse fetches and parses a single posting page.
	Parse(ctx context.Context, postingURL string) (posting.Raw, error)
	// ListCompanyPostingURLs lists posting URLs from a company's board page.
	ListCompanyPostingURLs(ctx context.Context, companySlug string) ([]string, error)
}

// Registry maps host predicates to adapters. Adding a platform means
// registering another entry, not editing a dispatch function.
type Registry struct {
	entries []registryEntry
}

type registryEntry struct {
	match   func(host string) bool
	adapter Adapter
}

// Register adds an adapter selected by a host predicate.
func (r *Registry) Register(match func(host string) bool, a Adapter) {
	r.entries = append(r.entries, registryEntry{match: match, adapter: a})
}

// Lookup selects the adapter for a posting URL. The second return is false
// when no platform supports the URL's host; callers branch on the value,
// since an unsupported platform is an expected, common case, not an error.
func (r *Registry) Lookup(rawURL string) (Adapter, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, false
	}
	host := strings.ToLower(u.Host)
	for _, e := range r.entries {
		if e.match(host) {
			return e.adapter, true
		}
	}
	return nil, false
}

// ByPlatform selects an adapter by its source tag.
func (r *Registry) ByPlatform(name string) (Adapter, bool) {
	for _, e := range r.entries {
		if e.adapter.Platform() == name {
			return e.adapter, true
		}
	}
	return nil, false
}

// hostSuffix matches a host equal to suffix or ending in "."+suffix.
func hostSuffix(suffix string) func(string) bool {
	return func(host string) bool {
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
}

// NewRegistry returns a registry with all supported platforms wired to the
// given fetcher.
func NewRegistry(f *Fetcher) *Registry {
	r := &Registry{}
	r.Register(hostSuffix("greenhouse.io"), &Greenhouse{fetcher: f})
	r.Register(hostSuffix("jobs.lever.co"), &Lever{fetcher: f})
	r.Register(hostSuffix("jobs.ashbyhq.com"), &Ashby{fetcher: f})
	r.Register(hostSuffix("apply.workable.com"), &Workable{fetcher: f})
	return r
}

// Fetcher performs HTTP GETs with retry and optional circuit breaking. One
// transient failure classifier covers all platforms: timeouts, connection
// failures, and retryable statuses qualify; 4xx client errors never do.
type Fetcher struct {
	client   *http.Client
	policy   resilience.Policy
	breaker  *resilience.Breaker
	logger   *slog.Logger
	counters *metrics.Counters
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithBreaker layers a circuit breaker inside the retry loop. A rejected
// call fails fast and does not consume retry budget.
func WithBreaker(b *resilience.Breaker) FetcherOption {
	return func(f *Fetcher) { f.breaker = b }
}

// WithPolicy overrides the default retry policy.
func WithPolicy(p resilience.Policy) FetcherOption {
	return func(f *Fetcher) { f.policy = p }
}

// NewFetcher creates a Fetcher with the default policy: 3 retries starting
// at one second, doubling, capped at 30 seconds. counters may be nil.
func NewFetcher(client *http.Client, logger *slog.Logger, counters *metrics.Counters, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: client,
		policy: resilience.Policy{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			MaxDelay:   30 * time.Second,
		},
		logger:   logger,
		counters: counters,
	}
	f.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		f.counters.Inc(metrics.FetchRetries)
		f.logger.Warn("Retrying fetch", "attempt", attempt, "delay", delay, "error", err)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get fetches a URL and returns the response body. Non-200 statuses come
// back as *resilience.StatusError so callers can distinguish a 404 from a
// transient server error.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte

	call := func() error {
		f.counters.Inc(metrics.FetchAttempts)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", "jobhunter/1.0")
		req.Header.Set("Accept", "text/html,application/xhtml+xml")

		start := time.Now()
		resp, err := f.client.Do(req)
		if err != nil {
			f.logger.Warn("HTTP request failed", "url", rawURL, "duration_ms", time.Since(start).Milliseconds(), "error", err)
			return err
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				f.logger.Warn("Failed to close response body", "error", closeErr)
			}
		}()

		if resp.StatusCode != http.StatusOK {
			return &resilience.StatusError{URL: rawURL, StatusCode: resp.StatusCode}
		}

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		body = b
		return nil
	}

	run := call
	if f.breaker != nil {
		run = func() error { return f.breaker.Do(call) }
	}

	if err := f.policy.Do(ctx, run); err != nil {
		f.counters.Inc(metrics.FetchFailures)
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return body, nil
}

// pathParts splits a URL path into its non-empty segments.
func pathParts(u string) []string {
	parsed, err := url.Parse(u)
	if err != nil {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(parsed.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// trimTitleSuffix drops the " - Company" tail that ATS page titles often
// carry.
func trimTitleSuffix(title string) string {
	if i := strings.Index(title, " - "); i >= 0 {
		return strings.TrimSpace(title[:i])
	}
	return strings.TrimSpace(title)
}

// dedupeURLs removes duplicates while preserving order.
func dedupeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	var out []string
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
