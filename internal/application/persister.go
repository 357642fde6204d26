package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gridflow/silogrid/internal/adapters/cog"
	"github.com/gridflow/silogrid/internal/domain"
	"github.com/gridflow/silogrid/internal/ports/output"
)

// Outcome is the per-task result of a persist operation.
type Outcome string

// Persist outcomes.
const (
	OutcomeWritten Outcome = "written"
	OutcomeSkipped Outcome = "skipped"
	OutcomeMissing Outcome = "missing"
	OutcomeFailed  Outcome = "failed"
)

// PersistRequest describes one raster to bring to disk.
type PersistRequest struct {
	Variable    domain.VariableDescriptor
	Date        time.Time
	Key         string          // Remote object key
	Destination string          // Absolute local path
	Geometry    domain.Geometry // When set, only the covering window is written
	Overview    int             // Resolution level for clipped writes
	Force       bool            // Rewrite an existing destination
}

// Persister brings remote rasters to local disk: either a byte-for-byte
// copy of the whole object or a geometry-clipped rewrite. Idempotent
// against existing destinations; the existence check precedes every
// network call.
type Persister struct {
	store     output.ObjectStore
	reader    *WindowReader
	inventory output.CacheInventory
	metrics   output.MetricsCollector
	logger    *slog.Logger
}

// NewPersister creates a new persister.
func NewPersister(store output.ObjectStore, reader *WindowReader, inventory output.CacheInventory, metrics output.MetricsCollector, logger *slog.Logger) *Persister {
	return &Persister{
		store:     store,
		reader:    reader,
		inventory: inventory,
		metrics:   metrics,
		logger:    logger,
	}
}

// Persist executes one persist task. A missing remote object is an
// expected publication gap: it is logged and reported as OutcomeMissing
// with a nil error. OutcomeFailed carries the underlying error so batch
// callers can decide whether to continue.
func (p *Persister) Persist(ctx context.Context, req PersistRequest) (Outcome, error) {
	outcome, err := p.persist(ctx, req)
	p.metrics.IncTaskOutcome(req.Variable.Name, string(outcome))
	return outcome, err
}

func (p *Persister) persist(ctx context.Context, req PersistRequest) (Outcome, error) {
	if req.Key == "" || req.Destination == "" {
		return OutcomeFailed, &domain.ValidationError{
			Field:      "destination",
			Constraint: "non-empty key and destination",
			Message:    "persist task is incomplete",
		}
	}

	if !req.Force {
		if _, err := os.Stat(req.Destination); err == nil {
			return OutcomeSkipped, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(req.Destination), 0o755); err != nil {
		return OutcomeFailed, fmt.Errorf("create cache directory: %w", err)
	}

	var err error
	if req.Geometry == nil {
		err = p.copyFull(ctx, req)
	} else {
		err = p.writeClipped(ctx, req)
	}
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			p.logger.Warn("object not yet published",
				"variable", req.Variable.Name,
				"date", domain.CompactDate(req.Date, req.Variable.Granularity),
				"key", req.Key,
			)
			return OutcomeMissing, nil
		}
		return OutcomeFailed, err
	}

	info, statErr := os.Stat(req.Destination)
	entry := output.CacheEntry{
		Variable:  req.Variable.Name,
		Date:      domain.CompactDate(req.Date, req.Variable.Granularity),
		Path:      req.Destination,
		Clipped:   req.Geometry != nil,
		WrittenAt: time.Now().UTC(),
	}
	if statErr == nil {
		entry.Size = info.Size()
	}
	if err := p.inventory.Record(ctx, entry); err != nil {
		p.logger.Warn("cache inventory record failed", "path", req.Destination, "error", err)
	}

	p.logger.Info("raster persisted",
		"variable", req.Variable.Name,
		"key", req.Key,
		"path", req.Destination,
		"clipped", req.Geometry != nil,
	)
	return OutcomeWritten, nil
}

// copyFull mirrors the remote object byte for byte.
func (p *Persister) copyFull(ctx context.Context, req PersistRequest) error {
	body, err := p.store.Fetch(ctx, req.Key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	n, err := writeAtomic(req.Destination, func(w io.Writer) error {
		_, err := io.Copy(w, body)
		return err
	})
	if err != nil {
		return &domain.TransportError{Operation: "fetch", Key: req.Key, Err: err}
	}
	p.metrics.ObserveTransferBytes("fetch", n)
	return nil
}

// writeClipped reads only the geometry's window and writes it as an
// independently georeferenced raster.
func (p *Persister) writeClipped(ctx context.Context, req PersistRequest) error {
	grid, profile, err := p.reader.Read(ctx, p.store, req.Key, req.Geometry, ReadOptions{Overview: req.Overview, Variable: req.Variable.Name})
	if err != nil {
		return err
	}
	n, err := writeAtomic(req.Destination, func(w io.Writer) error {
		return cog.Encode(w, grid, profile)
	})
	if err != nil {
		return err
	}
	p.metrics.ObserveTransferBytes("clip", n)
	return nil
}

// writeAtomic writes through a temporary file and renames it into
// place, so an interrupted write never leaves a partial file that a
// later existence check would mistake for a cached raster.
func writeAtomic(dest string, fill func(io.Writer) error) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return 0, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return 0, err
	}
	n, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	return n, os.Rename(tmp.Name(), dest)
}
