package scrape

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"jobhunter/metrics"
	"jobhunter/resilience"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastPolicy retries without real sleeping.
func fastPolicy(maxRetries int) resilience.Policy {
	return resilience.Policy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
		Sleep:      func(context.Context, time.Duration) error { return nil },
	}
}

func testFetcher(opts ...FetcherOption) *Fetcher {
	opts = append([]FetcherOption{WithPolicy(fastPolicy(3))}, opts...)
	return NewFetcher(http.DefaultClient, testLogger(), metrics.NewCounters(), opts...)
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(testFetcher())

	tests := []struct {
		url      string
		platform string
		ok       bool
	}{
		{"https://boards.greenhouse.io/acme/jobs/123", "greenhouse", true},
		{"https://job-boards.greenhouse.io/acme/jobs/123", "greenhouse", true},
		{"https://jobs.lever.co/acme/abc-def", "lever", true},
		{"https://jobs.ashbyhq.com/acme/xyz", "ashby", true},
		{"https://apply.workable.com/acme/j/ABC123", "workable", true},
		{"https://example.com/careers/123", "", false},
		{"https://greenhouse.io.evil.com/acme", "", false},
		{"not a url at all", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		a, ok := r.Lookup(tt.url)
		if ok != tt.ok {
			t.Errorf("Lookup(%q) ok = %v, want %v", tt.url, ok, tt.ok)
			continue
		}
		if ok && a.Platform() != tt.platform {
			t.Errorf("Lookup(%q) platform = %s, want %s", tt.url, a.Platform(), tt.platform)
		}
	}
}

func TestRegistryByPlatform(t *testing.T) {
	r := NewRegistry(testFetcher())
	for _, name := range []string{"greenhouse", "lever", "ashby", "workable"} {
		if _, ok := r.ByPlatform(name); !ok {
			t.Errorf("ByPlatform(%q) not found", name)
		}
	}
	if _, ok := r.ByPlatform("taleo"); ok {
		t.Error("ByPlatform should not know unsupported platforms")
	}
}

func TestFetcherRetriesTransientThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := testFetcher().Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestFetcherDoesNotRetryNotFound(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testFetcher().Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	var se *resilience.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Errorf("expected StatusError 404, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (client errors are permanent)", calls)
	}
}

func TestFetcherExhaustsRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testFetcher().Get(context.Background(), srv.URL)
	var ex *resilience.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (initial + 3 retries)", calls)
	}
}

func TestFetcherWithBreakerRejectsWhenOpen(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := resilience.NewBreaker(2, time.Hour)
	f := testFetcher(WithBreaker(b))

	// First fetch exhausts retries and trips the breaker.
	if _, err := f.Get(context.Background(), srv.URL); err == nil {
		t.Fatal("expected failure")
	}
	if b.State() != resilience.StateOpen {
		t.Fatalf("breaker state = %s, want open", b.State())
	}
	callsAfterFirst := calls

	// While open, the fetch fails fast without touching the server and
	// without burning retries on rejections.
	_, err := f.Get(context.Background(), srv.URL)
	var oe *resilience.OpenError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OpenError, got %v", err)
	}
	if calls != callsAfterFirst {
		t.Errorf("open breaker must not reach the server: calls went %d -> %d", callsAfterFirst, calls)
	}
}

const greenhousePage = `<!DOCTYPE html>
<html><head><title>Data Scientist - Acme Corp</title></head>
<body>
<h1>  Data Scientist  </h1>
<div class="opening-location">Remote - US</div>
</body></html>`

func TestGreenhouseParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(greenhousePage))
	}))
	defer srv.Close()

	g := &Greenhouse{fetcher: testFetcher()}
	raw, err := g.Parse(context.Background(), srv.URL+"/acme/jobs/4567?gh_src=newsletter")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if raw.Company != "acme" {
		t.Errorf("company = %q, want acme", raw.Company)
	}
	if raw.Title != "Data Scientist" {
		t.Errorf("title = %q", raw.Title)
	}
	if raw.Location != "Remote - US" {
		t.Errorf("location = %q", raw.Location)
	}
	if raw.Source != "greenhouse" || raw.SourceID != "4567" {
		t.Errorf("source = %s:%s, want greenhouse:4567", raw.Source, raw.SourceID)
	}
	if raw.URL != srv.URL+"/acme/jobs/4567" {
		t.Errorf("url not canonicalized: %q", raw.URL)
	}
}

const leverPage = `<!DOCTYPE html>
<html><head><title>Acme</title></head>
<body>
<h1>Acme</h1>
<h2>Backend Engineer - Platform</h2>
<div class="posting-categories">Remote, Engineering / Full-time</div>
</body></html>`

func TestLeverParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(leverPage))
	}))
	defer srv.Close()

	l := &Lever{fetcher: testFetcher()}
	raw, err := l.Parse(context.Background(), srv.URL+"/acme/9d2f-44aa")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if raw.Title != "Backend Engineer" {
		t.Errorf("title = %q, want h2 text with suffix trimmed", raw.Title)
	}
	if raw.Location != "Remote" {
		t.Errorf("location = %q, want first category token", raw.Location)
	}
	if raw.Source != "lever" || raw.SourceID != "9d2f-44aa" {
		t.Errorf("source = %s:%s", raw.Source, raw.SourceID)
	}
}

const boardPage = `<!DOCTYPE html>
<html><body>
<a href="/acme/jobs/111">Role one</a>
<a href="/acme/jobs/222">Role two</a>
<a href="/acme/jobs/111?src=board">Role one again</a>
<a href="/other/jobs/999">Someone else</a>
<a href="https://boards.greenhouse.io/acme/jobs/333">Absolute</a>
</body></html>`

func TestGreenhouseListCompanyPostingURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(boardPage))
	}))
	defer srv.Close()

	g := &Greenhouse{fetcher: testFetcher(), base: srv.URL}
	urls, err := g.ListCompanyPostingURLs(context.Background(), "acme")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// Duplicates collapse after canonicalization, other companies are
	// skipped, absolute links pass through untouched.
	want := []string{
		srv.URL + "/acme/jobs/111",
		srv.URL + "/acme/jobs/222",
		"https://boards.greenhouse.io/acme/jobs/333",
	}
	if len(urls) != len(want) {
		t.Fatalf("urls = %v, want %v", urls, want)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
}
