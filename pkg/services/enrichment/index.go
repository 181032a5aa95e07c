// Package enrichment matches records against indexed map features and turns
// the matches into typed record fields, tags and detection lists.
package enrichment

import (
	"math"
	"sort"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

const (
	minBucketDeg = 0.0005
	// Queries spanning more buckets than this scan every feature instead.
	maxQueryBuckets = 4096
)

type bucketKey struct {
	lat, lon int
}

// FeatureIndex buckets features on a lat/lon grid so radius queries only
// visit nearby features. Features from every completed cell share one index,
// so matching is purely distance based and ignores cell boundaries.
type FeatureIndex struct {
	bucketDeg float64
	features  []models.Feature
	buckets   map[bucketKey][]int
	oversized []int // features spanning too many buckets, always candidates
}

// NewFeatureIndex indexes features, dropping duplicates returned by
// neighbouring cells. radiusMeters is the typical query radius and sets the
// bucket size.
func NewFeatureIndex(features []models.Feature, radiusMeters float64) *FeatureIndex {
	size, _ := geo.MetersToDegrees(radiusMeters, 0)
	if size < minBucketDeg || math.IsNaN(size) {
		size = minBucketDeg
	}

	idx := &FeatureIndex{
		bucketDeg: size,
		features:  make([]models.Feature, 0, len(features)),
		buckets:   make(map[bucketKey][]int),
	}

	seen := make(map[string]bool, len(features))
	for _, f := range features {
		key := string(f.Type) + "/" + f.ID
		if seen[key] {
			continue
		}
		seen[key] = true

		i := len(idx.features)
		idx.features = append(idx.features, f)
		keys := idx.keysFor(featureBounds(f))
		if keys == nil {
			idx.oversized = append(idx.oversized, i)
			continue
		}
		for _, k := range keys {
			idx.buckets[k] = append(idx.buckets[k], i)
		}
	}
	return idx
}

// Len returns the number of distinct features.
func (x *FeatureIndex) Len() int {
	return len(x.features)
}

func featureBounds(f models.Feature) geo.BoundingBox {
	if f.Type == models.FeatureTypeWay && len(f.Geometry) > 0 {
		pts := append([]geo.Point{f.Location()}, f.Geometry...)
		var b geo.BoundingBox
		b.MinLat, b.MaxLat = pts[0].Lat, pts[0].Lat
		b.MinLon, b.MaxLon = pts[0].Lon, pts[0].Lon
		for _, p := range pts[1:] {
			b.MinLat = math.Min(b.MinLat, p.Lat)
			b.MaxLat = math.Max(b.MaxLat, p.Lat)
			b.MinLon = math.Min(b.MinLon, p.Lon)
			b.MaxLon = math.Max(b.MaxLon, p.Lon)
		}
		return b
	}
	return geo.BoundingBox{MinLon: f.Lon, MinLat: f.Lat, MaxLon: f.Lon, MaxLat: f.Lat}
}

func (x *FeatureIndex) bucket(v float64) int {
	return int(math.Floor(v / x.bucketDeg))
}

// keysFor returns the bucket keys covering b, or nil when b spans too many.
func (x *FeatureIndex) keysFor(b geo.BoundingBox) []bucketKey {
	lat0, lat1 := x.bucket(b.MinLat), x.bucket(b.MaxLat)
	lon0, lon1 := x.bucket(b.MinLon), x.bucket(b.MaxLon)
	if (lat1-lat0+1)*(lon1-lon0+1) > maxQueryBuckets {
		return nil
	}
	keys := make([]bucketKey, 0, (lat1-lat0+1)*(lon1-lon0+1))
	for la := lat0; la <= lat1; la++ {
		for lo := lon0; lo <= lon1; lo++ {
			keys = append(keys, bucketKey{la, lo})
		}
	}
	return keys
}

// Match is a feature found within a query radius.
type Match struct {
	Feature        *models.Feature
	DistanceMeters float64
}

// Within returns every feature whose distance to p is at most radiusMeters,
// in index order. The boundary is inclusive.
func (x *FeatureIndex) Within(p geo.Point, radiusMeters float64) []Match {
	if radiusMeters < 0 || len(x.features) == 0 {
		return nil
	}

	// Widen the search box slightly so boundary features are never missed.
	dLat, dLon := geo.MetersToDegrees(radiusMeters*1.01+1, p.Lat)
	search := geo.BoundingBox{
		MinLon: p.Lon - dLon, MinLat: p.Lat - dLat,
		MaxLon: p.Lon + dLon, MaxLat: p.Lat + dLat,
	}

	var candidates []int
	keys := x.keysFor(search)
	if keys == nil || dLon >= 180 {
		candidates = make([]int, len(x.features))
		for i := range candidates {
			candidates[i] = i
		}
	} else {
		seen := make(map[int]bool)
		for _, i := range x.oversized {
			seen[i] = true
			candidates = append(candidates, i)
		}
		for _, k := range keys {
			for _, i := range x.buckets[k] {
				if !seen[i] {
					seen[i] = true
					candidates = append(candidates, i)
				}
			}
		}
		sort.Ints(candidates)
	}

	var out []Match
	for _, i := range candidates {
		f := &x.features[i]
		if d := f.DistanceMeters(p); d <= radiusMeters {
			out = append(out, Match{Feature: f, DistanceMeters: d})
		}
	}
	return out
}
