package overpass

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/config"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

var testBBox = geo.NewBoundingBox(-74.0, 40.7, -73.9, 40.8)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.OverpassConfig{
		URL:            server.URL,
		Timeout:        5 * time.Second,
		UserAgent:      "geoenrich-test",
		QueryTimeoutS:  25,
		MaxFeatureSize: 1 << 20,
	}, zap.NewNop())
}

const sampleResponse = `{
  "version": 0.6,
  "elements": [
    {"type": "node", "id": 42, "lat": 40.75, "lon": -73.95, "tags": {"amenity": "cafe", "level": 2}},
    {"type": "way", "id": 7,
     "bounds": {"minlat": 40.70, "minlon": -73.99, "maxlat": 40.72, "maxlon": -73.97},
     "geometry": [{"lat": 40.70, "lon": -73.99}, {"lat": 40.72, "lon": -73.97}],
     "tags": {"highway": "residential", "lit": true}},
    {"type": "relation", "id": 9, "tags": {"type": "route"}},
    {"type": "node", "id": 43, "tags": {"amenity": "bench"}}
  ]
}`

func TestClient_FetchDecodesNodesAndWays(t *testing.T) {
	var gotQuery, gotUA string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotQuery = r.PostForm.Get("data")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	})

	categories := []models.Category{{Key: "amenity"}, {Key: "highway", Value: "residential"}}
	features, err := client.Fetch(context.Background(), testBBox, categories)
	require.NoError(t, err)

	assert.Equal(t, "geoenrich-test", gotUA)
	assert.Contains(t, gotQuery, "[out:json][timeout:25];")
	assert.Contains(t, gotQuery, `node["amenity"](40.7000000,-74.0000000,40.8000000,-73.9000000);`)
	assert.Contains(t, gotQuery, `way["highway"="residential"](40.7000000,-74.0000000,40.8000000,-73.9000000);`)

	require.Len(t, features, 2)

	node := features[0]
	assert.Equal(t, "node/42", node.ID)
	assert.Equal(t, models.FeatureTypePoint, node.Type)
	assert.Equal(t, 40.75, node.Lat)
	assert.Equal(t, "cafe", node.Tags["amenity"])
	assert.Equal(t, "2", node.Tags["level"])

	way := features[1]
	assert.Equal(t, "way/7", way.ID)
	assert.Equal(t, models.FeatureTypeWay, way.Type)
	assert.InDelta(t, 40.71, way.Lat, 1e-9)
	assert.InDelta(t, -73.98, way.Lon, 1e-9)
	assert.Len(t, way.Geometry, 2)
	assert.Equal(t, "true", way.Tags["lit"])
}

func TestClient_RateLimitCarriesRetryAfter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate_limited"))
	})

	_, err := client.Fetch(context.Background(), testBBox, []models.Category{{Key: "amenity"}})
	require.Error(t, err)

	rl, ok := apperrors.IsRateLimit(err)
	require.True(t, ok, "expected RateLimitError, got %T", err)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
}

func TestClient_ServerErrorIsFetchError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
	})

	_, err := client.Fetch(context.Background(), testBBox, []models.Category{{Key: "amenity"}})
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusGatewayTimeout, fe.StatusCode)
	_, limited := apperrors.IsRateLimit(err)
	assert.False(t, limited)
}

func TestClient_RuntimeRemarkIsFetchError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"elements": [], "remark": "runtime error: Query timed out in \"query\" at line 3 after 26 seconds."}`))
	})

	_, err := client.Fetch(context.Background(), testBBox, []models.Category{{Key: "amenity"}})
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Message, "timed out")
}

func TestClient_MalformedResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	})

	_, err := client.Fetch(context.Background(), testBBox, []models.Category{{Key: "amenity"}})
	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestClient_RequiresCategories(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := client.Fetch(context.Background(), testBBox, nil)
	ce, ok := apperrors.IsConfiguration(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInvalidRequest, ce.Code)
}

func TestClient_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Fetch(ctx, testBBox, []models.Category{{Key: "amenity"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildQuery_EscapesValues(t *testing.T) {
	q := BuildQuery(testBBox, []models.Category{{Key: "name", Value: `Joe's "Diner"`}}, 60)
	assert.Contains(t, q, `["name"="Joe's \"Diner\""]`)
	assert.True(t, strings.HasSuffix(q, "out tags geom;\n"))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "30", 30 * time.Second},
		{"negative", "-5", 0},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
