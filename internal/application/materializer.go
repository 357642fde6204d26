package application

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gridflow/silogrid/internal/domain"
	"github.com/gridflow/silogrid/internal/ports/output"
)

// MaterializeRequest describes one batch download run.
type MaterializeRequest struct {
	Variables []string
	Start     time.Time
	End       time.Time
	OutputDir string

	// Geometry and BBox are mutually exclusive. With neither set,
	// whole rasters are mirrored byte for byte.
	Geometry domain.Geometry
	BBox     *BBox

	Force bool
}

// BBox is a rectangular region given as west, south, east, north.
type BBox struct {
	West, South, East, North float64
}

// TaskCounts aggregates one variable's per-task outcomes.
type TaskCounts struct {
	Written  int `json:"written"`
	Skipped  int `json:"skipped"`
	Missing  int `json:"missing"`
	Failed   int `json:"failed"`
	Excluded int `json:"excluded"` // dates before the variable's first valid year
}

// Total returns the number of dates accounted for.
func (c TaskCounts) Total() int {
	return c.Written + c.Skipped + c.Missing + c.Failed + c.Excluded
}

// Report is the structured outcome of one materialize run. Always
// returned in full, even when individual tasks failed.
type Report struct {
	Variables map[string]*TaskCounts `json:"variables"`
	Duration  time.Duration          `json:"duration"`
}

// Counts sums the per-variable counts.
func (r *Report) Counts() TaskCounts {
	var total TaskCounts
	for _, c := range r.Variables {
		total.Written += c.Written
		total.Skipped += c.Skipped
		total.Missing += c.Missing
		total.Failed += c.Failed
		total.Excluded += c.Excluded
	}
	return total
}

// Materializer persists a variables x dates task grid into a directory
// tree, delegating each task to the persister. Validation happens
// before any I/O; per-task failures are counted, logged and never abort
// the batch.
type Materializer struct {
	registry  output.VariableRegistry
	persister *Persister
	logger    *slog.Logger
}

// NewMaterializer creates a new batch materializer.
func NewMaterializer(registry output.VariableRegistry, persister *Persister, logger *slog.Logger) *Materializer {
	return &Materializer{registry: registry, persister: persister, logger: logger}
}

// Materialize runs the batch and returns its outcome report.
func (m *Materializer) Materialize(ctx context.Context, req MaterializeRequest) (*Report, error) {
	if req.OutputDir == "" {
		return nil, &domain.ValidationError{
			Field:      "output_dir",
			Constraint: "non-empty",
			Message:    "an output directory is required",
		}
	}
	geom, err := resolveRegion(req.Geometry, req.BBox)
	if err != nil {
		return nil, err
	}
	descriptors, err := expandVariables(m.registry, req.Variables)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report := &Report{Variables: make(map[string]*TaskCounts, len(descriptors))}
	for _, v := range descriptors {
		counts, err := m.materializeOne(ctx, v, req, geom)
		if err != nil {
			return nil, err
		}
		report.Variables[v.Name] = counts
	}
	report.Duration = time.Since(start)

	totals := report.Counts()
	m.logger.Info("batch complete",
		"variables", len(descriptors),
		"written", totals.Written,
		"skipped", totals.Skipped,
		"missing", totals.Missing,
		"failed", totals.Failed,
		"excluded", totals.Excluded,
		"duration", report.Duration,
	)
	return report, nil
}

func (m *Materializer) materializeOne(ctx context.Context, v domain.VariableDescriptor, req MaterializeRequest, geom domain.Geometry) (*TaskCounts, error) {
	dates, err := domain.DateSequence(req.Start, req.End, v.Granularity)
	if err != nil {
		return nil, err
	}

	counts := &TaskCounts{}
	for _, date := range dates {
		// Dates the archive predates are excluded up front, not
		// attempted and failed.
		if date.Year() < v.FirstYear {
			counts.Excluded++
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key, err := ObjectKey(v, date)
		if err != nil {
			return nil, err
		}
		rel, err := CachePath(v, date)
		if err != nil {
			return nil, err
		}

		outcome, err := m.persister.Persist(ctx, PersistRequest{
			Variable:    v,
			Date:        date,
			Key:         key,
			Destination: filepath.Join(req.OutputDir, filepath.FromSlash(rel)),
			Geometry:    geom,
			Force:       req.Force,
		})
		switch outcome {
		case OutcomeWritten:
			counts.Written++
		case OutcomeSkipped:
			counts.Skipped++
		case OutcomeMissing:
			counts.Missing++
		case OutcomeFailed:
			counts.Failed++
			m.logger.Error("persist task failed",
				"variable", v.Name,
				"date", domain.CompactDate(date, v.Granularity),
				"error", err,
			)
		}
	}
	return counts, nil
}

// resolveRegion enforces the geometry/bbox exclusivity and converts a
// bbox into its polygon form.
func resolveRegion(geom domain.Geometry, bbox *BBox) (domain.Geometry, error) {
	if geom != nil && bbox != nil {
		return nil, &domain.ValidationError{
			Field:      "bbox",
			Constraint: "mutually exclusive with geometry",
			Message:    "pass a geometry or a bbox, not both",
		}
	}
	if bbox == nil {
		return geom, nil
	}
	poly := domain.NewBox(bbox.West, bbox.South, bbox.East, bbox.North)
	if err := poly.Validate(); err != nil {
		return nil, err
	}
	return poly, nil
}
