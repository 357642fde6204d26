// Package storage provides archive object store adapters.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gridflow/silogrid/internal/domain"
)

// HTTPStore implements ObjectStore against the archive's public HTTP
// endpoint. Partial reads are issued as byte-range requests.
type HTTPStore struct {
	client  *http.Client
	baseURL string
}

// HTTPConfig holds HTTP store configuration.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client // optional; tests inject a fake transport
}

// NewHTTPStore creates a new HTTP object store adapter.
func NewHTTPStore(cfg HTTPConfig) *HTTPStore {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPStore{
		client:  client,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

// ReadRange reads length bytes starting at off using a Range request.
func (s *HTTPStore) ReadRange(ctx context.Context, key string, off, length int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url(key), nil)
	if err != nil {
		return nil, &domain.TransportError{Operation: "read_range", Key: key, Err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+length-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Operation: "read_range", Key: key, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusPartialContent, http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", key, domain.ErrObjectNotFound)
	default:
		return nil, &domain.TransportError{
			Operation: "read_range",
			Key:       key,
			Err:       fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	// A server ignoring Range returns 200 with the whole body; slice it.
	body, err := io.ReadAll(io.LimitReader(resp.Body, off+length))
	if err != nil {
		return nil, &domain.TransportError{Operation: "read_range", Key: key, Err: err}
	}
	if resp.StatusCode == http.StatusOK {
		if int64(len(body)) <= off {
			return nil, &domain.TransportError{
				Operation: "read_range",
				Key:       key,
				Err:       fmt.Errorf("short body: %d bytes, offset %d", len(body), off),
			}
		}
		body = body[off:]
	}
	if int64(len(body)) > length {
		body = body[:length]
	}
	return body, nil
}

// Size returns the object size from a HEAD request.
func (s *HTTPStore) Size(ctx context.Context, key string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url(key), nil)
	if err != nil {
		return 0, &domain.TransportError{Operation: "head", Key: key, Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, &domain.TransportError{Operation: "head", Key: key, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("%s: %w", key, domain.ErrObjectNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &domain.TransportError{
			Operation: "head",
			Key:       key,
			Err:       fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}
	return resp.ContentLength, nil
}

// Fetch returns a reader over the whole object.
func (s *HTTPStore) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url(key), nil)
	if err != nil {
		return nil, &domain.TransportError{Operation: "fetch", Key: key, Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Operation: "fetch", Key: key, Err: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", key, domain.ErrObjectNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &domain.TransportError{
			Operation: "fetch",
			Key:       key,
			Err:       fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}
	return resp.Body, nil
}

// Exists checks if an object exists via HEAD request.
func (s *HTTPStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Size(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *HTTPStore) url(key string) string {
	return s.baseURL + "/" + strings.TrimPrefix(key, "/")
}
