package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
)

// Specific errors.
var (
	ErrUnknownVariable       = fmt.Errorf("variable: %w", ErrNotFound)
	ErrObjectNotFound        = fmt.Errorf("remote object: %w", ErrNotFound)
	ErrUnsupportedProjection = fmt.Errorf("projection: %w", ErrUnsupported)
	ErrOutOfBounds           = fmt.Errorf("geometry outside raster extent: %w", ErrInvalidInput)
	ErrMalformedRaster       = fmt.Errorf("malformed raster: %w", ErrInternal)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// TransportError represents a network or I/O failure while talking to
// the archive. Distinct from ErrObjectNotFound: a missing object is an
// expected publication gap, a transport failure is not.
type TransportError struct {
	Operation string // Operation that failed (read_range, fetch, head)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("transport error during %s for %s: %v", e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("transport error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProjectionError reports a raster whose coordinate reference is not the
// one the engine supports. Never auto-corrected.
type ProjectionError struct {
	Key  string // Object key
	EPSG int    // Code found on the raster
}

// Error implements the error interface.
func (e *ProjectionError) Error() string {
	return fmt.Sprintf("raster %s is EPSG:%d, expected EPSG:%d", e.Key, e.EPSG, EPSGWGS84)
}

// Unwrap returns the underlying error type.
func (e *ProjectionError) Unwrap() error {
	return ErrUnsupportedProjection
}

// RasterError represents a failure while decoding a raster object.
type RasterError struct {
	Key string // Object key or file path
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *RasterError) Error() string {
	return fmt.Sprintf("raster error for %s: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *RasterError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
