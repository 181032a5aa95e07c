// Package geo holds the WGS84 primitives shared by partitioning, fetching and enrichment:
// bounding boxes, points, geodesic distance and coordinate parsing.
package geo

import (
	"encoding/json"
	"fmt"
	"math"
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox is an axis-aligned WGS84 rectangle in degrees.
type BoundingBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// NewBoundingBox builds a box from the [minLon, minLat, maxLon, maxLat] order used on the wire.
func NewBoundingBox(minLon, minLat, maxLon, maxLat float64) BoundingBox {
	return BoundingBox{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat}
}

// UnmarshalJSON accepts either the object form or a [minLon, minLat, maxLon, maxLat] array.
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) != 4 {
			return fmt.Errorf("bbox array must have 4 elements, got %d", len(arr))
		}
		*b = NewBoundingBox(arr[0], arr[1], arr[2], arr[3])
		return nil
	}

	type plain BoundingBox
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("invalid bbox: %w", err)
	}
	*b = BoundingBox(p)
	return nil
}

// Array returns the box as [minLon, minLat, maxLon, maxLat].
func (b BoundingBox) Array() [4]float64 {
	return [4]float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
}

// Validate checks ordering and WGS84 ranges.
func (b BoundingBox) Validate() error {
	for _, v := range b.Array() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bbox contains a non-finite value")
		}
	}
	if b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("longitude out of range [-180, 180]: %g..%g", b.MinLon, b.MaxLon)
	}
	if b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("latitude out of range [-90, 90]: %g..%g", b.MinLat, b.MaxLat)
	}
	if b.MinLon >= b.MaxLon {
		return fmt.Errorf("minLon (%g) must be less than maxLon (%g)", b.MinLon, b.MaxLon)
	}
	if b.MinLat >= b.MaxLat {
		return fmt.Errorf("minLat (%g) must be less than maxLat (%g)", b.MinLat, b.MaxLat)
	}
	return nil
}

func (b BoundingBox) Width() float64  { return b.MaxLon - b.MinLon }
func (b BoundingBox) Height() float64 { return b.MaxLat - b.MinLat }
func (b BoundingBox) Area() float64   { return b.Width() * b.Height() }

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Point {
	return Point{Lat: (b.MinLat + b.MaxLat) / 2, Lon: (b.MinLon + b.MaxLon) / 2}
}

// Contains reports whether p lies inside or on the edge of the box.
func (b BoundingBox) Contains(p Point) bool {
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon && p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// Overlaps reports whether the interiors of the two boxes intersect.
// Boxes that only share an edge do not overlap.
func (b BoundingBox) Overlaps(o BoundingBox) bool {
	return b.MinLon < o.MaxLon && o.MinLon < b.MaxLon && b.MinLat < o.MaxLat && o.MinLat < b.MaxLat
}

// Intersection returns the overlapping rectangle and whether it is non-empty.
func (b BoundingBox) Intersection(o BoundingBox) (BoundingBox, bool) {
	r := BoundingBox{
		MinLon: math.Max(b.MinLon, o.MinLon),
		MinLat: math.Max(b.MinLat, o.MinLat),
		MaxLon: math.Min(b.MaxLon, o.MaxLon),
		MaxLat: math.Min(b.MaxLat, o.MaxLat),
	}
	if r.MinLon >= r.MaxLon || r.MinLat >= r.MaxLat {
		return BoundingBox{}, false
	}
	return r, true
}

// OverlapArea returns the area (square degrees) shared by the two boxes.
func (b BoundingBox) OverlapArea(o BoundingBox) float64 {
	r, ok := b.Intersection(o)
	if !ok {
		return 0
	}
	return r.Area()
}

// Pad grows the box by deg on every side, clamped to WGS84 ranges.
func (b BoundingBox) Pad(deg float64) BoundingBox {
	return BoundingBox{
		MinLon: math.Max(-180, b.MinLon-deg),
		MinLat: math.Max(-90, b.MinLat-deg),
		MaxLon: math.Min(180, b.MaxLon+deg),
		MaxLat: math.Min(90, b.MaxLat+deg),
	}
}

// Union returns the smallest box containing both.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{
		MinLon: math.Min(b.MinLon, o.MinLon),
		MinLat: math.Min(b.MinLat, o.MinLat),
		MaxLon: math.Max(b.MaxLon, o.MaxLon),
		MaxLat: math.Max(b.MaxLat, o.MaxLat),
	}
}

// DegeneratePadding is applied by BoundsOf when all points share a latitude or longitude.
const DegeneratePadding = 0.001

// BoundsOf returns the tightest box around points. A single point or a set of
// collinear points is padded so the result still satisfies Validate.
func BoundsOf(points []Point) (BoundingBox, bool) {
	if len(points) == 0 {
		return BoundingBox{}, false
	}

	b := BoundingBox{
		MinLon: points[0].Lon, MinLat: points[0].Lat,
		MaxLon: points[0].Lon, MaxLat: points[0].Lat,
	}
	for _, p := range points[1:] {
		b.MinLon = math.Min(b.MinLon, p.Lon)
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLon = math.Max(b.MaxLon, p.Lon)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
	}

	if b.MinLon == b.MaxLon {
		b.MinLon = math.Max(-180, b.MinLon-DegeneratePadding)
		b.MaxLon = math.Min(180, b.MaxLon+DegeneratePadding)
	}
	if b.MinLat == b.MaxLat {
		b.MinLat = math.Max(-90, b.MinLat-DegeneratePadding)
		b.MaxLat = math.Min(90, b.MaxLat+DegeneratePadding)
	}
	return b, true
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%g,%g,%g,%g]", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}
