package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobhunter/pkg/posting"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS roles (
	role_id    TEXT PRIMARY KEY,
	company    TEXT NOT NULL,
	title      TEXT NOT NULL,
	location   TEXT NOT NULL DEFAULT '',
	url        TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT '',
	source_id  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PGStore is the relational store variant: one row per role ID with the
// primary key enforcing uniqueness at the storage layer. Each upsert runs in
// a single transaction, insert-or-ignore first and a locked update as the
// fallback, so concurrent ingestion of one key cannot race into two "new"
// rows or a lost update.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGStore connects, verifies connectivity, and ensures the schema exists.
func NewPGStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PGStore{pool: pool, logger: logger}, nil
}

// Upsert implements Store.
func (s *PGStore) Upsert(ctx context.Context, roleID string, n posting.Normalized) (UpsertResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO roles (role_id, company, title, location, url, source, source_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (role_id) DO NOTHING`,
		roleID, n.Company, n.Title, n.Location, n.URL, n.Source, n.SourceID,
	)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("insert role: %w", err)
	}
	if tag.RowsAffected() == 1 {
		if err := tx.Commit(ctx); err != nil {
			return UpsertResult{}, fmt.Errorf("commit insert: %w", err)
		}
		s.logger.Debug("Inserted new role", "role_id", roleID)
		return UpsertResult{Status: StatusNew}, nil
	}

	// Row exists: lock it, diff, and update only when something changed.
	var existing posting.Normalized
	err = tx.QueryRow(ctx,
		`SELECT company, title, location, url, source, source_id
		 FROM roles WHERE role_id = $1 FOR UPDATE`,
		roleID,
	).Scan(&existing.Company, &existing.Title, &existing.Location,
		&existing.URL, &existing.Source, &existing.SourceID)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("lock existing role: %w", err)
	}

	changes := Diff(existing, n)
	if changes == nil {
		if err := tx.Commit(ctx); err != nil {
			return UpsertResult{}, fmt.Errorf("commit unchanged: %w", err)
		}
		return UpsertResult{Status: StatusUnchanged}, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE roles
		 SET company = $2, title = $3, location = $4, url = $5,
		     source = $6, source_id = $7, updated_at = now()
		 WHERE role_id = $1`,
		roleID, n.Company, n.Title, n.Location, n.URL, n.Source, n.SourceID,
	)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("update role: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, fmt.Errorf("commit update: %w", err)
	}
	s.logger.Debug("Updated role", "role_id", roleID, "changed_fields", len(changes))
	return UpsertResult{Status: StatusUpdated, Changes: changes}, nil
}

// Get implements Store.
func (s *PGStore) Get(ctx context.Context, roleID string) (*posting.Record, error) {
	rec := &posting.Record{RoleID: roleID}
	err := s.pool.QueryRow(ctx,
		`SELECT company, title, location, url, source, source_id, created_at, updated_at
		 FROM roles WHERE role_id = $1`,
		roleID,
	).Scan(&rec.Current.Company, &rec.Current.Title, &rec.Current.Location,
		&rec.Current.URL, &rec.Current.Source, &rec.Current.SourceID,
		&rec.Current.CreatedAt, &rec.Current.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	return rec, nil
}

// ListAll implements Store. Rows come back in insertion order only as far as
// the table's physical order preserves it; no ordering is guaranteed.
func (s *PGStore) ListAll(ctx context.Context) ([]*posting.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role_id, company, title, location, url, source, source_id, created_at, updated_at
		 FROM roles`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var records []*posting.Record
	for rows.Next() {
		rec := &posting.Record{}
		if err := rows.Scan(&rec.RoleID, &rec.Current.Company, &rec.Current.Title,
			&rec.Current.Location, &rec.Current.URL, &rec.Current.Source,
			&rec.Current.SourceID, &rec.Current.CreatedAt, &rec.Current.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteStale implements Store. The created_at column is NOT NULL, so the
// missing-timestamp repair of the JSON encoding does not apply here.
func (s *PGStore) DeleteStale(ctx context.Context, retentionDays int) (int, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin sweep: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var before int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM roles`).Scan(&before); err != nil {
		return 0, 0, fmt.Errorf("count before sweep: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM roles WHERE created_at < now() - make_interval(days => $1)`,
		retentionDays,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("delete stale roles: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit sweep: %w", err)
	}

	after := before - int(tag.RowsAffected())
	s.logger.Info("Stale sweep complete",
		"retention_days", retentionDays,
		"removed", tag.RowsAffected(),
		"before", before,
		"after", after)
	return before, after, nil
}

// Close implements Store.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
