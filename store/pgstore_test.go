package store_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"jobhunter/store"
)

// newPGStore connects to the database named by JOBHUNTER_TEST_DATABASE_URL,
// or skips when unset. These are integration tests; the unit-level upsert
// semantics are covered by the JSON store tests against the same interface.
func newPGStore(t *testing.T) *store.PGStore {
	t.Helper()
	dsn := os.Getenv("JOBHUNTER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("JOBHUNTER_TEST_DATABASE_URL not set")
	}
	s, err := store.NewPGStore(context.Background(), dsn, testLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPGUpsertLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newPGStore(t)
	roleID := fmt.Sprintf("test|pg:%d", time.Now().UnixNano())

	n := samplePosting()
	res, err := s.Upsert(ctx, roleID, n)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Status != store.StatusNew {
		t.Errorf("status = %s, want new", res.Status)
	}

	res, err = s.Upsert(ctx, roleID, n)
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if res.Status != store.StatusUnchanged {
		t.Errorf("status = %s, want unchanged", res.Status)
	}

	changed := n
	changed.Title = "staff data scientist"
	res, err = s.Upsert(ctx, roleID, changed)
	if err != nil {
		t.Fatalf("upsert changed: %v", err)
	}
	if res.Status != store.StatusUpdated {
		t.Errorf("status = %s, want updated", res.Status)
	}
	if c, ok := res.Changes["title"]; !ok || c.New != "staff data scientist" {
		t.Errorf("unexpected diff %v", res.Changes)
	}

	rec, err := s.Get(ctx, roleID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Current.Title != "staff data scientist" {
		t.Errorf("current title = %q", rec.Current.Title)
	}
	if !rec.Current.UpdatedAt.After(rec.Current.CreatedAt) {
		t.Error("updated_at should move past created_at after an update")
	}
}
