package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/gridflow/silogrid/internal/adapters/cog"
	"github.com/gridflow/silogrid/internal/domain"
	"github.com/gridflow/silogrid/internal/ports/output"
)

// ReadOptions control one windowed read.
type ReadOptions struct {
	// Overview selects the resolution level: 0 reads full resolution,
	// n reads the n-th decimated overview.
	Overview int

	// Variable labels metrics and logs; it does not affect the read.
	Variable string
}

// WindowReader reads geometry-sized windows out of remote rasters. It
// validates the raster's coordinate reference before any pixel data is
// transferred and never reprojects.
type WindowReader struct {
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewWindowReader creates a new window reader.
func NewWindowReader(metrics output.MetricsCollector, logger *slog.Logger) *WindowReader {
	return &WindowReader{metrics: metrics, logger: logger}
}

// keySource adapts one object of an ObjectStore to the raster reader's
// range-read interface.
type keySource struct {
	store output.ObjectStore
	key   string
}

func (s keySource) ReadRange(ctx context.Context, off, length int64) ([]byte, error) {
	return s.store.ReadRange(ctx, s.key, off, length)
}

// Read opens the raster at key, computes the pixel window covering the
// geometry and reads it. The returned profile describes exactly the
// returned grid: its transform is shifted to the window's origin.
func (r *WindowReader) Read(ctx context.Context, store output.ObjectStore, key string, geom domain.Geometry, opts ReadOptions) (*domain.Grid, domain.RasterProfile, error) {
	start := time.Now()
	grid, profile, err := r.read(ctx, store, key, geom, opts)
	r.metrics.IncWindowRead(opts.Variable, err == nil)
	r.metrics.ObserveReadDuration(opts.Variable, time.Since(start))
	return grid, profile, err
}

func (r *WindowReader) read(ctx context.Context, store output.ObjectStore, key string, geom domain.Geometry, opts ReadOptions) (*domain.Grid, domain.RasterProfile, error) {
	if geom == nil {
		return nil, domain.RasterProfile{}, &domain.ValidationError{
			Field:      "geometry",
			Constraint: "non-nil",
			Message:    "a point or polygon is required",
		}
	}
	if err := geom.Validate(); err != nil {
		return nil, domain.RasterProfile{}, err
	}

	f, err := cog.Open(ctx, keySource{store: store, key: key}, key)
	if err != nil {
		return nil, domain.RasterProfile{}, err
	}

	// Reject foreign coordinate references before pixel data moves.
	epsg, err := f.EPSG()
	if err != nil {
		return nil, domain.RasterProfile{}, err
	}
	if epsg != domain.EPSGWGS84 {
		return nil, domain.RasterProfile{}, &domain.ProjectionError{Key: key, EPSG: epsg}
	}

	profile, err := f.Profile(opts.Overview)
	if err != nil {
		return nil, domain.RasterProfile{}, err
	}

	win, err := domain.WindowFromBounds(profile.Transform, geom.Bounds(), profile.Width, profile.Height)
	if err != nil {
		return nil, domain.RasterProfile{}, err
	}

	grid, err := f.ReadWindow(ctx, opts.Overview, win)
	if err != nil {
		return nil, domain.RasterProfile{}, err
	}

	r.logger.Debug("window read",
		"key", key,
		"window", win.String(),
		"overview", opts.Overview,
		"valid_samples", grid.ValidCount(),
	)

	profile.Transform = profile.Transform.Shift(win.Col, win.Row)
	profile.Width = win.Width
	profile.Height = win.Height
	return grid, profile, nil
}
