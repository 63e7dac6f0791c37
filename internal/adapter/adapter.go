// Package adapter abstracts the persistent store behind a single CRUD +
// upsert capability. No store-specific code leaks into the core queue: the
// controller only ever talks to this interface.
package adapter

import "context"

// Row is a persisted task row, keyed by UID.
type Row struct {
	UID         string            `json:"uid"`
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status"`
	Data        map[string]any    `json:"data,omitempty"`
	Error       string            `json:"error,omitempty"`
	UserID      string            `json:"userId,omitempty"`
	StartedAt   *int64            `json:"startedAt,omitempty"`
	CompletedAt *int64            `json:"completedAt,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Where selects rows; in this domain rows are always selected by UID, but
// the map shape keeps the interface open to composite keys.
type Where map[string]any

// Adapter is a capability, not a concrete store: relational, document, or
// in-memory backends all implement the same five operations.
type Adapter interface {
	FindFirst(ctx context.Context, where Where) (*Row, error)
	FindMany(ctx context.Context, where Where) ([]*Row, error)
	Create(ctx context.Context, row *Row) error
	Update(ctx context.Context, where Where, patch *Row) error
	Delete(ctx context.Context, where Where) error

	// Upsert attempts Create(create); on a unique-constraint conflict it
	// falls back to Update(where, update) and returns the updated row.
	// Any other error is surfaced.
	Upsert(ctx context.Context, where Where, update, create *Row) (*Row, error)
}
