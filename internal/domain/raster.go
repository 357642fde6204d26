package domain

import (
	"fmt"
	"math"
)

// Affine is the linear mapping between pixel indices and geographic
// coordinates: X = A*col + B*row + C, Y = D*col + E*row + F.
// Archive rasters are north-up, so B and D are zero and E is negative.
type Affine struct {
	A float64 // Pixel width
	B float64 // Row rotation (always 0 here)
	C float64 // X of the top-left corner
	D float64 // Column rotation (always 0 here)
	E float64 // Pixel height, negative for north-up
	F float64 // Y of the top-left corner
}

// Apply maps a pixel index to the coordinate of the pixel's top-left corner.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert maps a coordinate to fractional pixel indices. Only valid for
// axis-aligned transforms.
func (t Affine) Invert(x, y float64) (col, row float64) {
	return (x - t.C) / t.A, (y - t.F) / t.E
}

// Shift returns the transform of a sub-region whose origin is at the
// given pixel offset of this transform's grid.
func (t Affine) Shift(col, row int) Affine {
	out := t
	out.C = t.C + float64(col)*t.A
	out.F = t.F + float64(row)*t.E
	return out
}

// Window is a rectangular sub-region of a raster's pixel grid.
type Window struct {
	Row    int // Row offset from the top
	Col    int // Column offset from the left
	Height int // Number of rows
	Width  int // Number of columns
}

// String returns a compact representation for logs.
func (w Window) String() string {
	return fmt.Sprintf("window(row=%d col=%d %dx%d)", w.Row, w.Col, w.Width, w.Height)
}

// WindowFromBounds computes the minimal pixel window covering bounds on a
// raster of the given dimensions, rounding outward and clipping to the
// raster extent. A degenerate (point) bounds yields a 1x1 window.
// Bounds that do not intersect the raster at all are an error, never an
// empty window.
func WindowFromBounds(t Affine, b Bounds, width, height int) (Window, error) {
	cMin, rMin := t.Invert(b.MinX, b.MaxY) // top-left corner of the box
	cMax, rMax := t.Invert(b.MaxX, b.MinY) // bottom-right corner

	col := int(math.Floor(cMin))
	row := int(math.Floor(rMin))
	colEnd := int(math.Ceil(cMax))
	rowEnd := int(math.Ceil(rMax))

	// A point that lands inside a pixel still covers that pixel.
	if colEnd <= col {
		colEnd = col + 1
	}
	if rowEnd <= row {
		rowEnd = row + 1
	}

	if col >= width || row >= height || colEnd <= 0 || rowEnd <= 0 {
		return Window{}, fmt.Errorf("bounds (%g,%g,%g,%g): %w",
			b.MinX, b.MinY, b.MaxX, b.MaxY, ErrOutOfBounds)
	}

	col = max(col, 0)
	row = max(row, 0)
	colEnd = min(colEnd, width)
	rowEnd = min(rowEnd, height)

	return Window{Row: row, Col: col, Height: rowEnd - row, Width: colEnd - col}, nil
}

// DType identifies the pixel sample type of a raster.
type DType int

// Supported pixel types.
const (
	DTypeUnknown DType = iota
	DTypeUint8
	DTypeInt16
	DTypeUint16
	DTypeInt32
	DTypeUint32
	DTypeFloat32
	DTypeFloat64
)

// Size returns the sample size in bytes.
func (d DType) Size() int {
	switch d {
	case DTypeUint8:
		return 1
	case DTypeInt16, DTypeUint16:
		return 2
	case DTypeInt32, DTypeUint32, DTypeFloat32:
		return 4
	case DTypeFloat64:
		return 8
	default:
		return 0
	}
}

// String returns the conventional name of the type.
func (d DType) String() string {
	switch d {
	case DTypeUint8:
		return "uint8"
	case DTypeInt16:
		return "int16"
	case DTypeUint16:
		return "uint16"
	case DTypeInt32:
		return "int32"
	case DTypeUint32:
		return "uint32"
	case DTypeFloat32:
		return "float32"
	case DTypeFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// RasterProfile carries the georeferencing metadata of one raster object.
// Re-derived per file; every date's object is independent.
type RasterProfile struct {
	Transform Affine  // Pixel-to-coordinate mapping
	EPSG      int     // Coordinate reference code
	Nodata    float64 // Sentinel for missing measurements
	HasNodata bool    // Whether Nodata is declared
	DType     DType   // Pixel sample type
	Width     int     // Columns
	Height    int     // Rows
}

// Bounds returns the geographic extent of the raster.
func (p RasterProfile) Bounds() Bounds {
	x0, y0 := p.Transform.Apply(0, 0)
	x1, y1 := p.Transform.Apply(float64(p.Width), float64(p.Height))
	return Bounds{
		MinX: math.Min(x0, x1), MinY: math.Min(y0, y1),
		MaxX: math.Max(x0, x1), MaxY: math.Max(y0, y1),
	}
}

// Grid is a nodata-aware 2D array read from one raster window.
// Data is row-major; Mask marks samples equal to the nodata sentinel.
type Grid struct {
	Rows int
	Cols int
	Data []float64
	Mask []bool
}

// NewGrid allocates a grid of the given shape.
func NewGrid(rows, cols int) *Grid {
	return &Grid{
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
		Mask: make([]bool, rows*cols),
	}
}

// At returns the sample and its validity at (row, col).
func (g *Grid) At(row, col int) (float64, bool) {
	i := row*g.Cols + col
	return g.Data[i], !g.Mask[i]
}

// Set stores a sample at (row, col).
func (g *Grid) Set(row, col int, v float64, valid bool) {
	i := row*g.Cols + col
	g.Data[i] = v
	g.Mask[i] = !valid
}

// ValidCount returns the number of unmasked samples.
func (g *Grid) ValidCount() int {
	n := 0
	for _, m := range g.Mask {
		if !m {
			n++
		}
	}
	return n
}
