// Package localstore defines the uniform persistence contract the sync
// engine and repositories depend on, plus the concrete engine adapters.
// Callers branch on capability through this interface, never on the
// concrete engine type.
package localstore

import "context"

// Row is a generic result row keyed by column name.
type Row map[string]any

// Querier is the read/write surface shared by the store and its
// transactions.
type Querier interface {
	// Query runs a statement and returns all rows.
	Query(ctx context.Context, statement string, args ...any) ([]Row, error)
	// Execute runs a statement that returns no rows.
	Execute(ctx context.Context, statement string, args ...any) error
}

// Store is the contract any backing engine must satisfy. The same
// synchronization algorithm runs unmodified over every implementation.
type Store interface {
	Querier

	// Transaction runs fn atomically, rolling back on error.
	Transaction(ctx context.Context, fn func(tx Querier) error) error

	// SetForeignKeys toggles referential-integrity enforcement. The sync
	// engine relaxes it for the duration of a full sync and restores it
	// unconditionally afterward.
	SetForeignKeys(ctx context.Context, enabled bool) error

	// Columns lists the table's column names; writes outside this set
	// are rejected by the engine's field sanitation.
	Columns(ctx context.Context, table string) ([]string, error)

	// IsConstraintViolation reports whether err was caused by a
	// referential-integrity or uniqueness violation in this engine.
	IsConstraintViolation(err error) bool

	// Initialize creates the schema if it does not exist yet.
	Initialize(ctx context.Context) error

	Close() error
}
