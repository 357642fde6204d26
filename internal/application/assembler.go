package application

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gridflow/silogrid/internal/domain"
	"github.com/gridflow/silogrid/internal/ports/output"
)

// AssembleMode selects where per-date windows are read from.
type AssembleMode string

// Assembly modes.
const (
	// ModeStream reads windows straight off the archive; nothing
	// touches disk.
	ModeStream AssembleMode = "stream"

	// ModeCached persists each raster into the cache first, then reads
	// the window from the local copy. Already-cached dates skip the
	// network entirely.
	ModeCached AssembleMode = "cached"
)

// SeriesOptions parameterise one assembly run.
type SeriesOptions struct {
	Start    time.Time
	End      time.Time
	Geometry domain.Geometry
	Mode     AssembleMode
	Overview int

	// FillMissing keeps unpublished dates on the time axis as fully
	// masked slices instead of omitting them.
	FillMissing bool

	// Force rewrites cached rasters in ModeCached.
	Force bool
}

// Assembler turns {variables, date range, geometry} into one
// time-ordered series per variable. Missing per-date objects are
// tolerated; every other failure aborts the whole assembly so an
// incomplete series is never mistaken for a complete one.
type Assembler struct {
	registry  output.VariableRegistry
	remote    output.ObjectStore
	cache     output.ObjectStore // rooted at cacheDir
	reader    *WindowReader
	persister *Persister
	cacheDir  string
	logger    *slog.Logger
}

// NewAssembler creates a new series assembler.
func NewAssembler(registry output.VariableRegistry, remote, cache output.ObjectStore, reader *WindowReader, persister *Persister, cacheDir string, logger *slog.Logger) *Assembler {
	return &Assembler{
		registry:  registry,
		remote:    remote,
		cache:     cache,
		reader:    reader,
		persister: persister,
		cacheDir:  cacheDir,
		logger:    logger,
	}
}

// Assemble expands the requested names, reads every (variable, date)
// window in ascending date order and stacks the results. The returned
// map has one entry per requested variable regardless of how many
// dates were published.
func (a *Assembler) Assemble(ctx context.Context, variables []string, opts SeriesOptions) (map[string]*domain.Series, error) {
	if opts.Geometry == nil {
		return nil, &domain.ValidationError{
			Field:      "geometry",
			Constraint: "non-nil",
			Message:    "a point or polygon is required",
		}
	}
	if opts.Mode == "" {
		opts.Mode = ModeStream
	}
	if opts.Mode != ModeStream && opts.Mode != ModeCached {
		return nil, &domain.ValidationError{
			Field:      "mode",
			Value:      string(opts.Mode),
			Constraint: "stream|cached",
			Message:    "unknown assembly mode",
		}
	}

	// Expand every name before any I/O: unknown variables fail the
	// whole request with no partial work.
	descriptors, err := expandVariables(a.registry, variables)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*domain.Series, len(descriptors))
	for _, v := range descriptors {
		series, err := a.assembleOne(ctx, v, opts)
		if err != nil {
			return nil, err
		}
		result[v.Name] = series
	}
	return result, nil
}

// assembleOne builds one variable's series at the variable's own
// granularity. Mixed daily/monthly requests therefore get independent
// date axes.
func (a *Assembler) assembleOne(ctx context.Context, v domain.VariableDescriptor, opts SeriesOptions) (*domain.Series, error) {
	dates, err := domain.DateSequence(opts.Start, opts.End, v.Granularity)
	if err != nil {
		return nil, err
	}

	var (
		series  *domain.Series
		pending []time.Time // missing dates seen before the shape is known
	)
	for _, date := range dates {
		grid, err := a.readOne(ctx, v, date, opts)
		if err != nil {
			if errors.Is(err, domain.ErrObjectNotFound) {
				a.logger.Warn("date missing from archive",
					"variable", v.Name,
					"date", domain.CompactDate(date, v.Granularity),
				)
				if !opts.FillMissing {
					continue
				}
				if series == nil {
					pending = append(pending, date)
				} else {
					series.AppendMissing(date)
				}
				continue
			}
			return nil, err
		}

		if series == nil {
			series = domain.NewSeries(v.Name, grid.Rows, grid.Cols)
			for _, d := range pending {
				series.AppendMissing(d)
			}
			pending = nil
		}
		if err := series.Append(date, grid); err != nil {
			return nil, err
		}
	}

	if series == nil {
		// Every requested date was missing; the window shape is
		// unknowable, so the axis stays empty even with FillMissing.
		series = domain.NewSeries(v.Name, 0, 0)
	}
	return series, nil
}

func (a *Assembler) readOne(ctx context.Context, v domain.VariableDescriptor, date time.Time, opts SeriesOptions) (*domain.Grid, error) {
	key, err := ObjectKey(v, date)
	if err != nil {
		return nil, err
	}
	readOpts := ReadOptions{Overview: opts.Overview, Variable: v.Name}

	if opts.Mode == ModeStream {
		grid, _, err := a.reader.Read(ctx, a.remote, key, opts.Geometry, readOpts)
		return grid, err
	}

	rel, err := CachePath(v, date)
	if err != nil {
		return nil, err
	}
	outcome, err := a.persister.Persist(ctx, PersistRequest{
		Variable:    v,
		Date:        date,
		Key:         key,
		Destination: filepath.Join(a.cacheDir, filepath.FromSlash(rel)),
		Geometry:    opts.Geometry,
		Overview:    opts.Overview,
		Force:       opts.Force,
	})
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeMissing {
		return nil, domain.ErrObjectNotFound
	}

	// The cached file is already clipped at the requested resolution,
	// so the local read targets its level 0.
	readOpts.Overview = 0
	grid, _, err := a.reader.Read(ctx, a.cache, rel, opts.Geometry, readOpts)
	return grid, err
}

// expandVariables resolves names and presets into unique descriptors,
// preserving expansion order.
func expandVariables(registry output.VariableRegistry, names []string) ([]domain.VariableDescriptor, error) {
	if len(names) == 0 {
		return nil, &domain.ValidationError{
			Field:      "variables",
			Constraint: "non-empty",
			Message:    "at least one variable or preset is required",
		}
	}
	var out []domain.VariableDescriptor
	seen := make(map[string]bool)
	for _, name := range names {
		descriptors, err := registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		for _, v := range descriptors {
			if seen[v.Name] {
				continue
			}
			seen[v.Name] = true
			out = append(out, v)
		}
	}
	return out, nil
}
