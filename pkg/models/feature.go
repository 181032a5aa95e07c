package models

import (
	"strings"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
)

// FeatureType is the geometry kind of a map feature.
type FeatureType string

const (
	FeatureTypePoint FeatureType = "point"
	FeatureTypeWay   FeatureType = "way"
)

// Feature is a single external map entity with key/value tags.
// Lat/Lon is the node position or the way's center; Geometry holds way vertices when known.
type Feature struct {
	ID       string            `json:"id"`
	Type     FeatureType       `json:"type"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Geometry []geo.Point       `json:"geometry,omitempty"`
	Tags     map[string]string `json:"tags"`
}

// Location returns the representative point of the feature.
func (f *Feature) Location() geo.Point {
	return geo.Point{Lat: f.Lat, Lon: f.Lon}
}

// DistanceMeters returns the geodesic distance from p to the feature.
// Ways with geometry are measured to their closest segment.
func (f *Feature) DistanceMeters(p geo.Point) float64 {
	if f.Type == FeatureTypeWay && len(f.Geometry) > 0 {
		return geo.DistanceToPath(p, f.Geometry)
	}
	return geo.HaversineMeters(p, f.Location())
}

// Matches reports whether the feature carries key, and value when value is non-empty.
func (f *Feature) Matches(key, value string) bool {
	v, ok := f.Tags[key]
	if !ok {
		return false
	}
	return value == "" || v == value
}

// Category is a feature request filter in "key" or "key=value" form.
type Category struct {
	Key   string
	Value string
}

// ParseCategory splits "key=value" categories. A bare key matches any value.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Category{}, false
	}
	key, value, _ := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if key == "" {
		return Category{}, false
	}
	return Category{Key: key, Value: strings.TrimSpace(value)}, true
}
