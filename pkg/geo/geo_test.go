package geo

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundingBox_Validate(t *testing.T) {
	tests := []struct {
		name    string
		bbox    BoundingBox
		wantErr bool
	}{
		{"valid", NewBoundingBox(-74.0, 40.7, -73.9, 40.8), false},
		{"inverted longitude", NewBoundingBox(-73.9, 40.7, -74.0, 40.8), true},
		{"zero height", NewBoundingBox(-74.0, 40.7, -73.9, 40.7), true},
		{"latitude out of range", NewBoundingBox(0, -91, 1, 0), true},
		{"longitude out of range", NewBoundingBox(179, 0, 181, 1), true},
		{"nan", NewBoundingBox(math.NaN(), 0, 1, 1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bbox.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBoundingBox_UnmarshalJSON(t *testing.T) {
	var fromArray BoundingBox
	require.NoError(t, json.Unmarshal([]byte(`[-74.0, 40.7, -73.9, 40.8]`), &fromArray))
	assert.Equal(t, NewBoundingBox(-74.0, 40.7, -73.9, 40.8), fromArray)

	var fromObject BoundingBox
	require.NoError(t, json.Unmarshal([]byte(`{"min_lon":-74,"min_lat":40.7,"max_lon":-73.9,"max_lat":40.8}`), &fromObject))
	assert.Equal(t, fromArray, fromObject)

	var bad BoundingBox
	assert.Error(t, json.Unmarshal([]byte(`[1,2,3]`), &bad))
}

func TestBoundingBox_OverlapsIgnoresSharedEdges(t *testing.T) {
	a := NewBoundingBox(0, 0, 1, 1)
	b := NewBoundingBox(1, 0, 2, 1)
	c := NewBoundingBox(0.5, 0.5, 1.5, 1.5)

	assert.False(t, a.Overlaps(b))
	assert.True(t, a.Overlaps(c))
	assert.InDelta(t, 0.25, a.OverlapArea(c), 1e-12)
	assert.Zero(t, a.OverlapArea(b))
}

func TestBoundsOf(t *testing.T) {
	_, ok := BoundsOf(nil)
	assert.False(t, ok)

	b, ok := BoundsOf([]Point{{Lat: 40.71, Lon: -74.0}, {Lat: 40.79, Lon: -73.91}, {Lat: 40.75, Lon: -73.95}})
	require.True(t, ok)
	assert.Equal(t, NewBoundingBox(-74.0, 40.71, -73.91, 40.79), b)

	single, ok := BoundsOf([]Point{{Lat: 10, Lon: 20}})
	require.True(t, ok)
	assert.NoError(t, single.Validate())
	assert.True(t, single.Contains(Point{Lat: 10, Lon: 20}))
}

func TestHaversineMeters(t *testing.T) {
	// One degree of latitude along a meridian.
	d := HaversineMeters(Point{Lat: 0, Lon: 0}, Point{Lat: 1, Lon: 0})
	assert.InDelta(t, MetersPerDegreeLat, d, 0.01)

	assert.Zero(t, HaversineMeters(Point{Lat: 40.7, Lon: -74}, Point{Lat: 40.7, Lon: -74}))
}

func TestDistanceToPath(t *testing.T) {
	path := []Point{{Lat: 0, Lon: -1}, {Lat: 0, Lon: 1}}
	p := Point{Lat: 0.001, Lon: 0}

	got := DistanceToPath(p, path)
	want := HaversineMeters(p, Point{Lat: 0, Lon: 0})
	assert.InDelta(t, want, got, 0.01)

	// Beyond the end of the segment the closest point is the vertex.
	q := Point{Lat: 0, Lon: 1.5}
	assert.InDelta(t, HaversineMeters(q, path[1]), DistanceToPath(q, path), 0.01)

	assert.True(t, math.IsInf(DistanceToPath(p, nil), 1))
}

func TestMetersToDegrees(t *testing.T) {
	dLat, dLon := MetersToDegrees(MetersPerDegreeLat, 0)
	assert.InDelta(t, 1.0, dLat, 1e-9)
	assert.GreaterOrEqual(t, dLon, 1.0)

	_, dLonNorth := MetersToDegrees(1000, 60)
	_, dLonEquator := MetersToDegrees(1000, 0)
	assert.Greater(t, dLonNorth, dLonEquator)
}

func TestParseCoordinate(t *testing.T) {
	want := Point{Lat: 40.75, Lon: -73.95}

	tests := []struct {
		name string
		in   any
	}{
		{"lat,lon string", "40.75,-73.95"},
		{"spaced string", " 40.75 , -73.95 "},
		{"object lat/lon", map[string]any{"lat": 40.75, "lon": -73.95}},
		{"object latitude/longitude", map[string]any{"latitude": "40.75", "longitude": "-73.95"}},
		{"object lat/lng", map[string]any{"lat": json.Number("40.75"), "lng": json.Number("-73.95")}},
		{"geojson", map[string]any{"type": "Point", "coordinates": []any{-73.95, 40.75}}},
		{"array", []any{-73.95, 40.75}},
		{"raw json", json.RawMessage(`{"lat":40.75,"lon":-73.95}`)},
		{"json string", `[-73.95, 40.75]`},
		{"point", want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCoordinate(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, want.Lat, got.Lat, 1e-12)
			assert.InDelta(t, want.Lon, got.Lon, 1e-12)
		})
	}
}

func TestParseCoordinate_Invalid(t *testing.T) {
	_, err := ParseCoordinate(nil)
	assert.True(t, errors.Is(err, ErrMissingCoordinate))

	_, err = ParseCoordinate("")
	assert.True(t, errors.Is(err, ErrMissingCoordinate))

	for _, in := range []any{"north,south", "1,2,3", map[string]any{"lat": 1}, []any{1.0}, "95,0", 42} {
		_, err := ParseCoordinate(in)
		assert.Error(t, err, "input %v", in)
	}
}
