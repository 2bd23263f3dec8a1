package cache

import (
	"context"

	"github.com/moznion/go-optional"
)

// Store persists cache entries. Implementations must make Save atomic per
// entry: a concurrent Load sees either the old entry or the new one.
type Store interface {
	// Load returns the entry for key, or None when nothing is stored.
	// A structurally unreadable entry is reported as ErrCodeCacheCorruption.
	Load(ctx context.Context, key string) (optional.Option[Entry], error)
	// Save writes or replaces the entry.
	Save(ctx context.Context, entry Entry) error
	// Delete removes the entry. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases resources held by the store.
	Close() error
}
