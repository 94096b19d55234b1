// Package store persists one record per role identity and classifies every
// ingestion as new, updated, or unchanged against the existing state.
//
// Two implementations share the Store interface: a JSON document store
// (local file or Cloud Storage object) and a Postgres table keyed by
// role_id. Callers never hold references across operations; every operation
// is a read-modify-write against the persisted representation.
package store

import (
	"context"
	"errors"

	"jobhunter/pkg/posting"
)

// Status classifies the outcome of processing one posting.
type Status string

const (
	StatusNew       Status = "new"
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
	StatusRejected  Status = "rejected"
)

// ErrNotFound is returned by Get for an unknown role ID.
var ErrNotFound = errors.New("store: role not found")

// Change records one field-level difference.
type Change struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// UpsertResult reports how an upsert resolved. Changes is populated only for
// StatusUpdated and lists old/new per changed field.
type UpsertResult struct {
	Status  Status
	Changes map[string]Change
}

// Store is the change-tracking persistence contract.
//
// Upsert must be atomic with respect to the read of existing state and the
// write of new state for the same role ID: concurrent ingestion of one key
// must not produce a corrupted diff or a lost update. Persistence failures
// propagate as errors; prior state on disk remains the recovery point.
type Store interface {
	Upsert(ctx context.Context, roleID string, n posting.Normalized) (UpsertResult, error)
	Get(ctx context.Context, roleID string) (*posting.Record, error)
	ListAll(ctx context.Context) ([]*posting.Record, error)

	// DeleteStale removes every record whose created_at is strictly older
	// than now minus the retention window, and returns the record counts
	// before and after the sweep. Records created exactly at the boundary
	// are retained. updated_at is never consulted: a posting repeatedly
	// re-scraped without change still expires by its first-seen time.
	DeleteStale(ctx context.Context, retentionDays int) (before, after int, err error)

	Close() error
}

// Identity fields compared by Diff, in stable output order.
var diffFields = []string{"company", "title", "location", "url", "source", "source_id"}

// Diff computes the field-level difference between two normalized postings.
// Timestamps are not part of Normalized and so are never compared. A nil
// map means no change.
func Diff(old, next posting.Normalized) map[string]Change {
	oldVals := fieldValues(old)
	newVals := fieldValues(next)

	var changes map[string]Change
	for _, f := range diffFields {
		if oldVals[f] != newVals[f] {
			if changes == nil {
				changes = make(map[string]Change)
			}
			changes[f] = Change{Old: oldVals[f], New: newVals[f]}
		}
	}
	return changes
}

func fieldValues(n posting.Normalized) map[string]string {
	return map[string]string{
		"company":   n.Company,
		"title":     n.Title,
		"location":  n.Location,
		"url":       n.URL,
		"source":    n.Source,
		"source_id": n.SourceID,
	}
}
