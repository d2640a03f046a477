// ABOUTME: Store interface and Record type for forge persistence
// ABOUTME: Records are addressed by unique primary key and partitioned by secondary key

package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Record is the unit of persistence: a JSON payload addressed by a unique
// primary key and grouped by a non-unique secondary (partition) key.
type Record struct {
	PrimaryKey   string
	SecondaryKey string
	Payload      json.RawMessage
}

// Store defines the keyed durable storage contract. Create and Update are
// idempotent last-writer-wins overwrites keyed by primary key; List returns
// a partition's records in insertion order. The store applies no retry
// policy of its own — backend errors surface to the caller.
type Store interface {
	// Create persists a record, overwriting any record with the same
	// primary key.
	Create(ctx context.Context, rec *Record) error

	// GetByID returns the record with the given primary key, or
	// ErrNotFound.
	GetByID(ctx context.Context, primaryKey string) (*Record, error)

	// List returns records sharing a secondary key in insertion order.
	// A limit <= 0 means no limit.
	List(ctx context.Context, secondaryKey string, limit, offset int) ([]*Record, error)

	// All returns every record across all partitions in insertion order.
	// This is the crash-recovery scan used by the queue on startup.
	All(ctx context.Context) ([]*Record, error)

	// Update overwrites the record with the given primary key.
	Update(ctx context.Context, rec *Record) error

	// Delete removes the record with the given primary key. Deleting a
	// missing record is not an error.
	Delete(ctx context.Context, primaryKey string) error
}
