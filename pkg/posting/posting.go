// Package posting contains the core domain types for the jobhunter pipeline.
package posting

import "time"

// Raw is a posting as produced by an acquisition adapter or an external feed.
// Every field is publisher-controlled free text; nothing here is trusted
// until it has passed validation and normalization.
type Raw struct {
	Company     string `json:"company"`
	Title       string `json:"title"`
	Location    string `json:"location,omitempty"`
	URL         string `json:"url,omitempty"`
	Source      string `json:"source,omitempty"`
	SourceID    string `json:"source_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// Normalized is the canonical form of a posting. Immutable once produced:
// normalizing a Normalized posting again yields the same value.
type Normalized struct {
	Company  string `json:"company"`
	Title    string `json:"title"`
	Location string `json:"location"`
	URL      string `json:"url,omitempty"`
	Source   string `json:"source,omitempty"`
	SourceID string `json:"source_id,omitempty"`
}

// Snapshot is a Normalized posting plus its lifecycle timestamps.
// CreatedAt is the immutable first-seen time; UpdatedAt moves only when a
// field-level change is persisted.
type Snapshot struct {
	Normalized
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is the stored state for one role identity.
// History is present only when the store runs in history mode; it is an
// append-only sequence of every snapshot ever observed for this role.
type Record struct {
	RoleID  string       `json:"-"`
	Current Snapshot     `json:"current"`
	History []Normalized `json:"history,omitempty"`
}
