package ledger

import (
	"context"
	"errors"
)

// ErrConcurrentAppend is returned by Store.Append when another writer has
// extended the chain since the caller read the tail. The losing append fails
// cleanly and must be retried with a freshly loaded tail; it is never
// silently merged.
var ErrConcurrentAppend = errors.New("ledger tail moved: concurrent append detected")

// ErrNotFound is returned when a requested block does not exist.
var ErrNotFound = errors.New("block not found")

// Store is the durable, ordered backing of the chain. Append is
// all-or-nothing: on any failure the block must not be partially persisted,
// and the caller must not advance its in-memory state.
type Store interface {
	// Load returns persisted blocks in ascending index order. If limit > 0,
	// only the most recent limit blocks are returned (still ascending).
	// A backing table that does not exist yet yields an empty chain, not an
	// error.
	Load(ctx context.Context, limit int) ([]Block, error)

	// Append durably persists a fully formed block. It fails with
	// ErrConcurrentAppend when the block's index or previous hash no longer
	// matches the stored tail.
	Append(ctx context.Context, b *Block) error
}
