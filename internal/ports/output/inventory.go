package output

import (
	"context"
	"time"
)

// CacheEntry describes one raster persisted into the local cache.
type CacheEntry struct {
	Variable  string    // Canonical variable name
	Date      string    // Compact date form
	Path      string    // Absolute local path
	Size      int64     // File size in bytes
	Clipped   bool      // Whether the file is a geometry-clipped subset
	WrittenAt time.Time // When the file was written
}

// CacheInventory defines the secondary port for the persisted-raster
// inventory. The persister records writes; the watcher removes entries
// for files deleted out-of-band.
type CacheInventory interface {
	// Record stores or replaces the entry for a path.
	Record(ctx context.Context, entry CacheEntry) error

	// Remove deletes the entry for a path. Unknown paths are not an error.
	Remove(ctx context.Context, path string) error

	// CountByVariable returns the number of cached rasters per variable.
	CountByVariable(ctx context.Context) (map[string]int, error)

	// Close releases the underlying store.
	Close() error
}

// NoOpInventory is a no-op implementation of CacheInventory.
type NoOpInventory struct{}

// Record implements CacheInventory.
func (n *NoOpInventory) Record(_ context.Context, _ CacheEntry) error { return nil }

// Remove implements CacheInventory.
func (n *NoOpInventory) Remove(_ context.Context, _ string) error { return nil }

// CountByVariable implements CacheInventory.
func (n *NoOpInventory) CountByVariable(_ context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

// Close implements CacheInventory.
func (n *NoOpInventory) Close() error { return nil }
