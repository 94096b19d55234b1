package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"

	"jobhunter/pkg/posting"
)

// jsonDocument is the persisted layout: a single object mapping role IDs to
// their stored record.
type jsonDocument struct {
	Roles map[string]*jsonRole `json:"roles"`
}

type jsonRole struct {
	Current posting.Snapshot     `json:"current"`
	History []posting.Normalized `json:"history,omitempty"`
}

// JSONStore keeps the whole store in one JSON document, either on the local
// filesystem or as a Cloud Storage object. A single mutex serializes every
// read-modify-write cycle, which also serializes upserts per role ID.
type JSONStore struct {
	mu sync.Mutex

	client *gcs.Client
	bucket string
	object string

	localPath string

	history bool
	logger  *slog.Logger
	now     func() time.Time
}

// JSONOption configures a JSONStore.
type JSONOption func(*JSONStore)

// WithHistory makes the store append every changed snapshot to the role's
// history list in addition to replacing current.
func WithHistory() JSONOption {
	return func(s *JSONStore) { s.history = true }
}

// WithClock overrides the store's time source. Used by the staleness tests.
func WithClock(now func() time.Time) JSONOption {
	return func(s *JSONStore) { s.now = now }
}

// NewJSONStore creates a store backed by a local JSON file.
func NewJSONStore(path string, logger *slog.Logger, opts ...JSONOption) *JSONStore {
	s := &JSONStore{localPath: path, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewJSONStoreGCS creates a store backed by a Cloud Storage object.
func NewJSONStoreGCS(client *gcs.Client, bucket, object string, logger *slog.Logger, opts ...JSONOption) *JSONStore {
	s := &JSONStore{client: client, bucket: bucket, object: object, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert implements Store.
func (s *JSONStore) Upsert(ctx context.Context, roleID string, n posting.Normalized) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return UpsertResult{}, err
	}

	now := s.now()
	role, ok := doc.Roles[roleID]
	if !ok {
		role = &jsonRole{Current: posting.Snapshot{Normalized: n, CreatedAt: now, UpdatedAt: now}}
		if s.history {
			role.History = []posting.Normalized{n}
		}
		doc.Roles[roleID] = role
		if err := s.save(ctx, doc); err != nil {
			return UpsertResult{}, err
		}
		s.logger.Debug("Inserted new role", "role_id", roleID)
		return UpsertResult{Status: StatusNew}, nil
	}

	changes := Diff(role.Current.Normalized, n)
	if changes == nil {
		// Unchanged postings do not touch updated_at and nothing is written.
		s.logger.Debug("Role unchanged", "role_id", roleID)
		return UpsertResult{Status: StatusUnchanged}, nil
	}

	role.Current.Normalized = n
	role.Current.UpdatedAt = now // CreatedAt keeps its first-seen value
	if s.history {
		role.History = append(role.History, n)
	}
	if err := s.save(ctx, doc); err != nil {
		return UpsertResult{}, err
	}
	s.logger.Debug("Updated role", "role_id", roleID, "changed_fields", len(changes))
	return UpsertResult{Status: StatusUpdated, Changes: changes}, nil
}

// Get implements Store.
func (s *JSONStore) Get(ctx context.Context, roleID string) (*posting.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	role, ok := doc.Roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	return &posting.Record{RoleID: roleID, Current: role.Current, History: role.History}, nil
}

// ListAll implements Store. Order follows Go map iteration and is not
// guaranteed.
func (s *JSONStore) ListAll(ctx context.Context) ([]*posting.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]*posting.Record, 0, len(doc.Roles))
	for id, role := range doc.Roles {
		records = append(records, &posting.Record{RoleID: id, Current: role.Current, History: role.History})
	}
	return records, nil
}

// DeleteStale implements Store. Records missing created_at (written by an
// older encoding) are repaired by assigning the current time instead of
// being treated as infinitely stale.
func (s *JSONStore) DeleteStale(ctx context.Context, retentionDays int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return 0, 0, err
	}

	now := s.now()
	cutoff := now.AddDate(0, 0, -retentionDays)
	before := len(doc.Roles)

	dirty := false
	var removed, repaired int
	for id, role := range doc.Roles {
		if role.Current.CreatedAt.IsZero() {
			role.Current.CreatedAt = now
			repaired++
			dirty = true
			continue
		}
		if role.Current.CreatedAt.Before(cutoff) {
			delete(doc.Roles, id)
			removed++
			dirty = true
		}
	}

	if dirty {
		if err := s.save(ctx, doc); err != nil {
			return before, before, err
		}
	}

	after := len(doc.Roles)
	s.logger.Info("Stale sweep complete",
		"retention_days", retentionDays,
		"removed", removed,
		"repaired", repaired,
		"before", before,
		"after", after)
	return before, after, nil
}

// Close implements Store.
func (s *JSONStore) Close() error { return nil }

// load reads and decodes the document. A missing file or object yields an
// empty store.
func (s *JSONStore) load(ctx context.Context) (*jsonDocument, error) {
	var data []byte

	if s.localPath != "" {
		b, err := os.ReadFile(s.localPath)
		if err != nil {
			if os.IsNotExist(err) {
				return &jsonDocument{Roles: make(map[string]*jsonRole)}, nil
			}
			return nil, fmt.Errorf("read store: %w", err)
		}
		data = b
	} else {
		b, err := s.loadGCS(ctx)
		if err != nil {
			if errors.Is(err, gcs.ErrObjectNotExist) {
				return &jsonDocument{Roles: make(map[string]*jsonRole)}, nil
			}
			return nil, err
		}
		data = b
	}

	if len(data) == 0 {
		return &jsonDocument{Roles: make(map[string]*jsonRole)}, nil
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal store: %w", err)
	}
	if doc.Roles == nil {
		doc.Roles = make(map[string]*jsonRole)
	}
	return &doc, nil
}

// save persists the document. The local backend writes to a temp file and
// renames it over the store, so a failed write leaves the previous state
// intact as the recovery point.
func (s *JSONStore) save(ctx context.Context, doc *jsonDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	if s.localPath != "" {
		dir := filepath.Dir(s.localPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
		tmp, err := os.CreateTemp(dir, ".store-*.json")
		if err != nil {
			return fmt.Errorf("create temp store: %w", err)
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return fmt.Errorf("write temp store: %w", err)
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("close temp store: %w", err)
		}
		if err := os.Rename(tmpName, s.localPath); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("replace store: %w", err)
		}
		return nil
	}

	return s.saveGCS(ctx, data)
}

func (s *JSONStore) loadGCS(ctx context.Context) ([]byte, error) {
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, gcs.ErrObjectNotExist) {
					return retry.Unrecoverable(openErr)
				}
				return fmt.Errorf("open store reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close store reader", "error", closeErr)
				}
			}()

			b, readErr := io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read store object: %w", readErr)
			}
			data = b
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying store load", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, gcs.ErrObjectNotExist
		}
		return nil, fmt.Errorf("load store after retries: %w", err)
	}
	return data, nil
}

func (s *JSONStore) saveGCS(ctx context.Context, data []byte) error {
	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write store object: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close store writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying store save", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save store after retries: %w", err)
	}
	return nil
}
