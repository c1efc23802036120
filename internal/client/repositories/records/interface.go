// Package records persists opaque, already-encrypted values grouped into
// named collections (accounts, friends, chats). Ids are keyed digests
// computed by the caller; this layer never sees plaintext.
package records

import (
	"context"
)

// Row is one stored value.
type Row struct {
	ID    []byte
	Value []byte
}

type Repository interface {
	// Upsert inserts or replaces the value at (collection, id).
	Upsert(ctx context.Context, collection string, id, value []byte) error
	// Get returns (nil, nil) when the row is absent.
	Get(ctx context.Context, collection string, id []byte) ([]byte, error)
	// List returns every row of collection.
	List(ctx context.Context, collection string) ([]Row, error)
	// Delete removes a row and reports whether it existed.
	Delete(ctx context.Context, collection string, id []byte) (bool, error)
}
