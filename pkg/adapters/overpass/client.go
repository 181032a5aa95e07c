// Package overpass fetches map features for a bounding box from an Overpass API endpoint.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/config"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/logging"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/metrics"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

const errorBodyLimit = 300

// Client talks to an Overpass interpreter endpoint.
type Client struct {
	endpoint     string
	userAgent    string
	queryTimeout int
	maxBytes     int64
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewClient creates a Client from the overpass configuration section.
func NewClient(cfg config.OverpassConfig, logger *zap.Logger) *Client {
	return &Client{
		endpoint:     cfg.URL,
		userAgent:    cfg.UserAgent,
		queryTimeout: cfg.QueryTimeoutS,
		maxBytes:     cfg.MaxFeatureSize,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		logger:       logger.Named("overpass"),
	}
}

// FetchError is a non-throttling failure talking to the feature service.
type FetchError struct {
	StatusCode int
	Message    string
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("overpass returned HTTP %d: %s", e.StatusCode, e.Message)
	}
	return "overpass request failed: " + e.Message
}

type response struct {
	Remark   string    `json:"remark"`
	Elements []element `json:"elements"`
}

type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type bounds struct {
	MinLat float64 `json:"minlat"`
	MinLon float64 `json:"minlon"`
	MaxLat float64 `json:"maxlat"`
	MaxLon float64 `json:"maxlon"`
}

type element struct {
	Type     string                     `json:"type"`
	ID       int64                      `json:"id"`
	Lat      *float64                   `json:"lat"`
	Lon      *float64                   `json:"lon"`
	Center   *latLon                    `json:"center"`
	Bounds   *bounds                    `json:"bounds"`
	Geometry []latLon                   `json:"geometry"`
	Tags     map[string]json.RawMessage `json:"tags"`
}

// Fetch returns all nodes and ways inside bbox that match any category.
// HTTP 429 yields an apperrors.RateLimitError; other failures yield a *FetchError.
func (c *Client) Fetch(ctx context.Context, bbox geo.BoundingBox, categories []models.Category) ([]models.Feature, error) {
	if len(categories) == 0 {
		return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidRequest, "at least one feature category is required")
	}

	query := BuildQuery(bbox, categories, c.queryTimeout)
	start := time.Now()
	features, err := c.do(ctx, query)
	metrics.FeatureRequestDurationMs.Observe(float64(time.Since(start).Milliseconds()))

	switch _, limited := apperrors.IsRateLimit(err); {
	case err == nil:
		metrics.FeatureRequestsTotal.WithLabelValues("ok").Inc()
		metrics.FeaturesFetchedTotal.Add(float64(len(features)))
	case limited:
		metrics.FeatureRequestsTotal.WithLabelValues("rate_limited").Inc()
	default:
		metrics.FeatureRequestsTotal.WithLabelValues("error").Inc()
	}

	if err != nil {
		c.logger.Warn("Feature request failed",
			zap.String("bbox", bbox.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}

	c.logger.Debug("Fetched features",
		zap.String("bbox", bbox.String()),
		zap.Int("count", len(features)),
		zap.Duration("elapsed", time.Since(start)))
	return features, nil
}

func (c *Client) do(ctx context.Context, query string) ([]models.Feature, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build overpass request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body := io.Reader(resp.Body)
	if c.maxBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxBytes+1)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &apperrors.RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Message:    errorBody(body),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{StatusCode: resp.StatusCode, Message: errorBody(body)}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("failed to read response: %v", err)}
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil, &FetchError{Message: fmt.Sprintf("response exceeds %d bytes", c.maxBytes)}
	}

	return decode(data)
}

// errorBody reads the start of an error response. Overpass answers errors
// with an HTML page, so only a short prefix is kept.
func errorBody(r io.Reader) string {
	msg, _ := io.ReadAll(io.LimitReader(r, 4096))
	return logging.TruncateString(strings.TrimSpace(string(msg)), errorBodyLimit)
}

// decode converts an Overpass JSON document into features. Elements without a
// resolvable position are skipped.
func decode(data []byte) ([]models.Feature, error) {
	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("malformed response: %v", err)}
	}
	// Overpass reports server-side query timeouts and memory exhaustion as a
	// remark on an otherwise successful response.
	if strings.Contains(r.Remark, "runtime error") {
		return nil, &FetchError{Message: r.Remark}
	}

	features := make([]models.Feature, 0, len(r.Elements))
	for _, el := range r.Elements {
		f, ok := el.toFeature()
		if ok {
			features = append(features, f)
		}
	}
	return features, nil
}

func (el element) toFeature() (models.Feature, bool) {
	f := models.Feature{
		ID:   el.Type + "/" + strconv.FormatInt(el.ID, 10),
		Tags: make(map[string]string, len(el.Tags)),
	}
	for k, v := range el.Tags {
		f.Tags[k] = jsonutil.FlexibleStringValue(v)
	}

	switch el.Type {
	case "node":
		if el.Lat == nil || el.Lon == nil {
			return f, false
		}
		f.Type = models.FeatureTypePoint
		f.Lat, f.Lon = *el.Lat, *el.Lon
	case "way":
		f.Type = models.FeatureTypeWay
		for _, p := range el.Geometry {
			f.Geometry = append(f.Geometry, geo.Point{Lat: p.Lat, Lon: p.Lon})
		}
		switch {
		case el.Center != nil:
			f.Lat, f.Lon = el.Center.Lat, el.Center.Lon
		case el.Bounds != nil:
			f.Lat = (el.Bounds.MinLat + el.Bounds.MaxLat) / 2
			f.Lon = (el.Bounds.MinLon + el.Bounds.MaxLon) / 2
		case len(f.Geometry) > 0:
			b, _ := geo.BoundsOf(f.Geometry)
			c := b.Center()
			f.Lat, f.Lon = c.Lat, c.Lon
		default:
			return f, false
		}
	default:
		return f, false
	}
	return f, true
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Unparseable values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
