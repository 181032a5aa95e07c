package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/jsonutil"
)

// ErrMissingCoordinate is returned when a record has no value in its geo field.
var ErrMissingCoordinate = errors.New("missing coordinate")

// ParseCoordinate extracts a point from a record's geo field value. Accepted forms:
//   - "lat,lon" strings
//   - objects with lat/lon, lat/lng or latitude/longitude keys
//   - GeoJSON Point objects and bare [lon, lat] arrays
func ParseCoordinate(v any) (Point, error) {
	switch c := v.(type) {
	case nil:
		return Point{}, ErrMissingCoordinate
	case Point:
		return checkPoint(c)
	case *Point:
		if c == nil {
			return Point{}, ErrMissingCoordinate
		}
		return checkPoint(*c)
	case string:
		return parseCoordinateString(c)
	case []any:
		return parseLonLatArray(c)
	case []float64:
		arr := make([]any, len(c))
		for i := range c {
			arr[i] = c[i]
		}
		return parseLonLatArray(arr)
	case map[string]any:
		return parseCoordinateObject(c)
	case json.RawMessage:
		return ParseCoordinateJSON(c)
	default:
		return Point{}, fmt.Errorf("unsupported coordinate type %T", v)
	}
}

// ParseCoordinateJSON decodes raw JSON and parses it with ParseCoordinate.
func ParseCoordinateJSON(raw json.RawMessage) (Point, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Point{}, ErrMissingCoordinate
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Point{}, fmt.Errorf("invalid coordinate JSON: %w", err)
	}
	return ParseCoordinate(v)
}

func parseCoordinateString(s string) (Point, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Point{}, ErrMissingCoordinate
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return ParseCoordinateJSON(json.RawMessage(s))
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("coordinate %q is not in \"lat,lon\" form", s)
	}
	lat, ok1 := jsonutil.FlexibleFloat(parts[0])
	lon, ok2 := jsonutil.FlexibleFloat(parts[1])
	if !ok1 || !ok2 {
		return Point{}, fmt.Errorf("coordinate %q is not numeric", s)
	}
	return checkPoint(Point{Lat: lat, Lon: lon})
}

func parseLonLatArray(arr []any) (Point, error) {
	if len(arr) < 2 {
		return Point{}, fmt.Errorf("coordinate array needs [lon, lat], got %d values", len(arr))
	}
	lon, ok1 := jsonutil.FlexibleFloat(arr[0])
	lat, ok2 := jsonutil.FlexibleFloat(arr[1])
	if !ok1 || !ok2 {
		return Point{}, fmt.Errorf("coordinate array is not numeric")
	}
	return checkPoint(Point{Lat: lat, Lon: lon})
}

var (
	latKeys = []string{"lat", "latitude", "y"}
	lonKeys = []string{"lon", "lng", "long", "longitude", "x"}
)

func parseCoordinateObject(m map[string]any) (Point, error) {
	if coords, ok := m["coordinates"].([]any); ok {
		return parseLonLatArray(coords)
	}

	lat, okLat := lookupFloat(m, latKeys)
	lon, okLon := lookupFloat(m, lonKeys)
	if !okLat || !okLon {
		return Point{}, fmt.Errorf("coordinate object has no lat/lon pair")
	}
	return checkPoint(Point{Lat: lat, Lon: lon})
}

func lookupFloat(m map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return jsonutil.FlexibleFloat(v)
		}
	}
	return 0, false
}

func checkPoint(p Point) (Point, error) {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return Point{}, fmt.Errorf("coordinate is NaN")
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return Point{}, fmt.Errorf("coordinate (%g, %g) out of range", p.Lat, p.Lon)
	}
	return p, nil
}
