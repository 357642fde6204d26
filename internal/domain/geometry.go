// Package domain contains the core business entities and value objects.
package domain

import (
	"fmt"
	"math"
)

// EPSGWGS84 is the only coordinate reference the engine supports. Every
// archive raster declares it; anything else is rejected, never reprojected.
const EPSGWGS84 = 4326

// Bounds is an axis-aligned bounding box in geographic coordinates.
// Coordinate order is always (x=longitude, y=latitude).
type Bounds struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Intersects reports whether two bounds overlap.
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinX <= o.MaxX && b.MaxX >= o.MinX && b.MinY <= o.MaxY && b.MaxY >= o.MinY
}

// IsValid checks that the bounds have non-negative dimensions.
func (b Bounds) IsValid() bool {
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY
}

// Width returns the longitudinal span.
func (b Bounds) Width() float64 {
	return math.Abs(b.MaxX - b.MinX)
}

// Height returns the latitudinal span.
func (b Bounds) Height() float64 {
	return math.Abs(b.MaxY - b.MinY)
}

// Geometry is a spatial query region: a point or a closed ring, always in
// EPSG:4326 with (lon, lat) ordering.
type Geometry interface {
	Bounds() Bounds
	Validate() error
}

// Point is a single coordinate.
type Point struct {
	X float64 // Longitude
	Y float64 // Latitude
}

// NewPoint creates a point from longitude and latitude.
func NewPoint(lon, lat float64) Point {
	return Point{X: lon, Y: lat}
}

// Bounds returns a degenerate box at the point.
func (p Point) Bounds() Bounds {
	return Bounds{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y}
}

// Validate checks the coordinate ranges.
func (p Point) Validate() error {
	if p.X < -180 || p.X > 180 {
		return &ValidationError{
			Field:      "longitude",
			Value:      p.X,
			Constraint: "[-180, 180]",
			Message:    "longitude must be between -180 and 180",
		}
	}
	if p.Y < -90 || p.Y > 90 {
		return &ValidationError{
			Field:      "latitude",
			Value:      p.Y,
			Constraint: "[-90, 90]",
			Message:    "latitude must be between -90 and 90",
		}
	}
	return nil
}

// String returns a WKT-style representation.
func (p Point) String() string {
	return fmt.Sprintf("POINT(%f %f)", p.X, p.Y)
}

// Polygon is a closed ring of coordinates. Only the bounding box matters
// for window computation; the ring is carried so callers can hand in
// boundaries parsed elsewhere.
type Polygon struct {
	Ring []Point
}

// NewBox creates a rectangular polygon from west/south/east/north edges.
func NewBox(west, south, east, north float64) Polygon {
	return Polygon{Ring: []Point{
		{X: west, Y: south},
		{X: east, Y: south},
		{X: east, Y: north},
		{X: west, Y: north},
		{X: west, Y: south},
	}}
}

// Bounds returns the ring's bounding box.
func (p Polygon) Bounds() Bounds {
	b := Bounds{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	for _, pt := range p.Ring {
		b.MinX = math.Min(b.MinX, pt.X)
		b.MinY = math.Min(b.MinY, pt.Y)
		b.MaxX = math.Max(b.MaxX, pt.X)
		b.MaxY = math.Max(b.MaxY, pt.Y)
	}
	return b
}

// Validate checks the ring is closed and its vertices are in range.
func (p Polygon) Validate() error {
	if len(p.Ring) < 4 {
		return &ValidationError{
			Field:      "ring",
			Value:      len(p.Ring),
			Constraint: ">= 4 vertices",
			Message:    "polygon ring must have at least 4 vertices",
		}
	}
	first, last := p.Ring[0], p.Ring[len(p.Ring)-1]
	if first.X != last.X || first.Y != last.Y {
		return &ValidationError{
			Field:      "ring",
			Value:      last,
			Constraint: "closed ring",
			Message:    "polygon ring must be closed",
		}
	}
	for _, pt := range p.Ring {
		if err := pt.Validate(); err != nil {
			return err
		}
	}
	return nil
}
