// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
)

// ObjectStore defines the secondary port for archive object access.
// Implementations map their backend's "object does not exist" condition
// to domain.ErrObjectNotFound and all other failures to
// domain.TransportError, so callers can tell publication gaps apart
// from real problems.
type ObjectStore interface {
	// ReadRange reads length bytes starting at off. This is the partial
	// read primitive the COG reader is built on.
	ReadRange(ctx context.Context, key string, off, length int64) ([]byte, error)

	// Size returns the object's total size in bytes.
	Size(ctx context.Context, key string) (int64, error)

	// Fetch returns a reader over the whole object.
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)
}

// StoreType identifies a storage backend.
type StoreType string

// Supported backends.
const (
	StoreTypeHTTP  StoreType = "http"
	StoreTypeS3    StoreType = "s3"
	StoreTypeLocal StoreType = "local"
)
