package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"jobhunter/events"
	"jobhunter/metrics"
	"jobhunter/pkg/posting"
	"jobhunter/store"
)

// memStore is an in-memory Store with optional per-key failure injection.
type memStore struct {
	mu      sync.Mutex
	records map[string]posting.Normalized
	failOn  map[string]error
	upserts int
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]posting.Normalized),
		failOn:  make(map[string]error),
	}
}

func (m *memStore) Upsert(_ context.Context, roleID string, n posting.Normalized) (store.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if err, ok := m.failOn[roleID]; ok {
		return store.UpsertResult{}, err
	}
	old, exists := m.records[roleID]
	m.records[roleID] = n
	if !exists {
		return store.UpsertResult{Status: store.StatusNew}, nil
	}
	changes := store.Diff(old, n)
	if len(changes) == 0 {
		return store.UpsertResult{Status: store.StatusUnchanged}, nil
	}
	return store.UpsertResult{Status: store.StatusUpdated, Changes: changes}, nil
}

func (m *memStore) Get(_ context.Context, roleID string) (*posting.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.records[roleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &posting.Record{RoleID: roleID, Current: posting.Snapshot{Normalized: n}}, nil
}

func (m *memStore) ListAll(context.Context) ([]*posting.Record, error) { return nil, nil }

func (m *memStore) DeleteStale(context.Context, int) (int, int, error) { return 0, 0, nil }

func (m *memStore) Close() error { return nil }

// capturePublisher records events; fails when failErr is set.
type capturePublisher struct {
	mu      sync.Mutex
	events  []events.Event
	failErr error
}

func (p *capturePublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failErr != nil {
		return p.failErr
	}
	p.events = append(p.events, ev)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validRaw() posting.Raw {
	return posting.Raw{
		Company:  "Acme Corp",
		Title:    "Data Scientist",
		Location: "Remote - US",
		URL:      "https://boards.greenhouse.io/acme/jobs/123?utm=x",
		Source:   "greenhouse",
		SourceID: "123",
	}
}

func TestIngestNewPosting(t *testing.T) {
	st := newMemStore()
	counters := metrics.NewCounters()
	o := New(st, testLogger(), counters)

	res, err := o.Ingest(context.Background(), validRaw())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != store.StatusNew {
		t.Errorf("status = %s, want new", res.Status)
	}
	if res.RoleID != "acme corp|greenhouse:123" {
		t.Errorf("role_id = %q", res.RoleID)
	}
	if counters.Get(metrics.PostingsNew) != 1 {
		t.Errorf("new counter = %d", counters.Get(metrics.PostingsNew))
	}

	// The stored record holds normalized fields and the canonical URL.
	rec, err := st.Get(context.Background(), res.RoleID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Current.Company != "acme corp" || rec.Current.Location != "remote" {
		t.Errorf("stored fields not normalized: %+v", rec.Current.Normalized)
	}
	if rec.Current.URL != "https://boards.greenhouse.io/acme/jobs/123" {
		t.Errorf("url = %q, want canonical form", rec.Current.URL)
	}
}

func TestIngestRejectsInvalidWithoutStoreCall(t *testing.T) {
	st := newMemStore()
	counters := metrics.NewCounters()
	o := New(st, testLogger(), counters)

	res, err := o.Ingest(context.Background(), posting.Raw{Title: "No Company"})
	if err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if res.Status != store.StatusRejected {
		t.Errorf("status = %s, want rejected", res.Status)
	}
	if len(res.Reasons) == 0 {
		t.Error("rejected result must carry reasons")
	}
	if st.upserts != 0 {
		t.Errorf("store touched %d times for a rejected posting", st.upserts)
	}
	if counters.Get(metrics.PostingsRejected) != 1 {
		t.Errorf("rejected counter = %d", counters.Get(metrics.PostingsRejected))
	}
}

func TestIngestStrictSources(t *testing.T) {
	o := New(newMemStore(), testLogger(), nil, WithStrictSources())

	raw := validRaw()
	raw.Source = "taleo"
	res, err := o.Ingest(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != store.StatusRejected {
		t.Errorf("status = %s, want rejected for unknown source", res.Status)
	}
}

func TestIngestPublishesOnChange(t *testing.T) {
	st := newMemStore()
	pub := &capturePublisher{}
	o := New(st, testLogger(), nil, WithPublisher(pub))
	ctx := context.Background()

	if _, err := o.Ingest(ctx, validRaw()); err != nil {
		t.Fatal(err)
	}
	// Unchanged ingestion publishes nothing.
	if _, err := o.Ingest(ctx, validRaw()); err != nil {
		t.Fatal(err)
	}
	changed := validRaw()
	changed.Title = "Staff Data Scientist"
	if _, err := o.Ingest(ctx, changed); err != nil {
		t.Fatal(err)
	}

	if len(pub.events) != 2 {
		t.Fatalf("events = %d, want 2 (new + updated)", len(pub.events))
	}
	if pub.events[0].Status != store.StatusNew || pub.events[1].Status != store.StatusUpdated {
		t.Errorf("event statuses = %s, %s", pub.events[0].Status, pub.events[1].Status)
	}
	if c, ok := pub.events[1].Changes["title"]; !ok || c.New != "staff data scientist" {
		t.Errorf("update event diff = %v", pub.events[1].Changes)
	}
}

func TestIngestPublishFailureIsNonFatal(t *testing.T) {
	pub := &capturePublisher{failErr: errors.New("broker down")}
	o := New(newMemStore(), testLogger(), nil, WithPublisher(pub))

	res, err := o.Ingest(context.Background(), validRaw())
	if err != nil {
		t.Fatalf("publish failure must not fail ingestion: %v", err)
	}
	if res.Status != store.StatusNew {
		t.Errorf("status = %s", res.Status)
	}
}

func TestIngestStoreFailure(t *testing.T) {
	st := newMemStore()
	st.failOn["acme corp|greenhouse:123"] = errors.New("write failed")
	counters := metrics.NewCounters()
	o := New(st, testLogger(), counters)

	_, err := o.Ingest(context.Background(), validRaw())
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if counters.Get(metrics.PostingsErrored) != 1 {
		t.Errorf("errored counter = %d", counters.Get(metrics.PostingsErrored))
	}
}

func TestIngestAllIsolatesFailures(t *testing.T) {
	st := newMemStore()
	st.failOn["bad co|greenhouse:2"] = errors.New("write failed")
	o := New(st, testLogger(), nil)

	raws := []posting.Raw{
		validRaw(),
		{Company: "Bad Co", Title: "Engineer", Source: "greenhouse", SourceID: "2"},
		{Title: "Missing Company"},
		{Company: "Good Co", Title: "Analyst", Source: "lever", SourceID: "3"},
	}
	summary := o.IngestAll(context.Background(), raws, 2)

	if summary.New != 2 {
		t.Errorf("new = %d, want 2", summary.New)
	}
	if summary.Errored != 1 {
		t.Errorf("errored = %d, want 1", summary.Errored)
	}
	if summary.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", summary.Rejected)
	}
}

func TestIngestAllDuplicatesCollapse(t *testing.T) {
	st := newMemStore()
	o := New(st, testLogger(), nil)

	// Same posting three times across a batch resolves to one role. With a
	// single worker the order is deterministic: one new, two unchanged.
	raws := []posting.Raw{validRaw(), validRaw(), validRaw()}
	summary := o.IngestAll(context.Background(), raws, 1)

	if summary.New != 1 || summary.Unchanged != 2 {
		t.Errorf("summary = %+v, want 1 new and 2 unchanged", summary)
	}
}
