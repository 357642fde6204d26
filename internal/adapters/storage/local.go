package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gridflow/silogrid/internal/domain"
)

// LocalStore implements ObjectStore over a local directory tree, used
// for reading back cached rasters.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a new local filesystem adapter.
func NewLocalStore(basePath string) *LocalStore {
	return &LocalStore{basePath: basePath}
}

// ReadRange reads length bytes starting at off from a cached file.
func (s *LocalStore) ReadRange(ctx context.Context, key string, off, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.TransportError{Operation: "read_range", Key: key, Err: err}
	}

	f, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, domain.ErrObjectNotFound)
		}
		return nil, &domain.TransportError{Operation: "read_range", Key: key, Err: err}
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, &domain.TransportError{Operation: "read_range", Key: key, Err: err}
	}
	return buf[:n], nil
}

// Size returns the file size.
func (s *LocalStore) Size(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &domain.TransportError{Operation: "head", Key: key, Err: err}
	}

	info, err := os.Stat(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%s: %w", key, domain.ErrObjectNotFound)
		}
		return 0, &domain.TransportError{Operation: "head", Key: key, Err: err}
	}
	return info.Size(), nil
}

// Fetch returns a reader over the whole file.
func (s *LocalStore) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.TransportError{Operation: "fetch", Key: key, Err: err}
	}

	f, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, domain.ErrObjectNotFound)
		}
		return nil, &domain.TransportError{Operation: "fetch", Key: key, Err: err}
	}
	return f, nil
}

// Exists checks if a file exists.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &domain.TransportError{Operation: "head", Key: key, Err: err}
	}

	_, err := os.Stat(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &domain.TransportError{Operation: "head", Key: key, Err: err}
	}
	return true, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

// isNotFound reports whether err is the missing-object condition.
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrObjectNotFound)
}
