package domain

import "time"

// Series is one variable's assembled time series: a 3D array indexed
// (time, row, col) with a matching date axis. The date axis follows the
// requested sequence order; depending on the assembly policy, missing
// dates are either omitted or kept as fully masked slices.
type Series struct {
	Variable string
	Dates    []time.Time
	Rows     int
	Cols     int
	Values   []float64 // len = len(Dates)*Rows*Cols, time-major
	Mask     []bool
}

// NewSeries allocates a series with capacity for the given number of steps.
func NewSeries(variable string, rows, cols int) *Series {
	return &Series{Variable: variable, Rows: rows, Cols: cols}
}

// Append adds one date's grid as the next time slice. The grid's shape
// must match the series shape.
func (s *Series) Append(date time.Time, g *Grid) error {
	if g.Rows != s.Rows || g.Cols != s.Cols {
		return &ValidationError{
			Field:      "grid",
			Value:      [2]int{g.Rows, g.Cols},
			Constraint: "matching window shape",
			Message:    "per-date window shapes diverged within one series",
		}
	}
	s.Dates = append(s.Dates, date)
	s.Values = append(s.Values, g.Data...)
	s.Mask = append(s.Mask, g.Mask...)
	return nil
}

// AppendMissing adds a fully masked slice for a date whose object does
// not exist, preserving the requested time axis length.
func (s *Series) AppendMissing(date time.Time) {
	n := s.Rows * s.Cols
	s.Dates = append(s.Dates, date)
	s.Values = append(s.Values, make([]float64, n)...)
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	s.Mask = append(s.Mask, mask...)
}

// Steps returns the length of the time axis.
func (s *Series) Steps() int {
	return len(s.Dates)
}

// Slice returns the grid for one time step.
func (s *Series) Slice(step int) *Grid {
	n := s.Rows * s.Cols
	return &Grid{
		Rows: s.Rows,
		Cols: s.Cols,
		Data: s.Values[step*n : (step+1)*n],
		Mask: s.Mask[step*n : (step+1)*n],
	}
}
