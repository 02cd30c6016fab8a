package store

import (
	"context"
)

// Store is the persistence gateway for comparison tables. Every collection
// shares one physical table keyed by (collection, identity_key).
type Store interface {
	// Comparison table
	LocalMap(ctx context.Context, collection string) (HashMap, error)
	// Reconcile runs fn inside a single transaction. Nothing fn applies is
	// visible to readers unless fn returns nil and the commit succeeds.
	Reconcile(ctx context.Context, collection string, fn func(Batch) error) error
	ListRecords(ctx context.Context, collection string, limit, offset int) ([]*Row, error)
	// TryLock takes the collection's exclusive sync lock without waiting.
	// It returns ErrLocked when another holder, in this or another process,
	// has it. release must be called exactly once.
	TryLock(ctx context.Context, collection string) (release func(), err error)

	// History
	CreateSyncHistory(ctx context.Context, history *SyncHistory) error
	GetSyncHistory(ctx context.Context, collection string, limit, offset int) ([]*SyncHistory, error)

	// General
	Close() error
}

// Batch is the write side of one Reconcile transaction.
type Batch interface {
	// ApplyAdditions inserts rows. A key that already exists fails the call
	// with ErrDuplicateKey.
	ApplyAdditions(ctx context.Context, rows []Row) error
	// ApplyUpdates replaces fingerprint and payload of existing keys. A
	// missing key fails the call with ErrKeyNotFound.
	ApplyUpdates(ctx context.Context, rows []Row) error
	ApplyDeletions(ctx context.Context, keys []string) error
}
