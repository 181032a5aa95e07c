// Package featurecache wraps a feature fetcher with a Redis-backed response cache.
// Payloads are stored as zstd-compressed JSON.
package featurecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/metrics"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
)

const keyPrefix = "geoenrich:features:"

// Fetcher is the wrapped feature source.
type Fetcher interface {
	Fetch(ctx context.Context, bbox geo.BoundingBox, categories []models.Category) ([]models.Feature, error)
}

// Cache serves repeated requests for the same bbox and categories from Redis.
// Cache failures are logged and fall through to the wrapped fetcher.
type Cache struct {
	next    Fetcher
	client  redis.UniversalClient
	ttl     time.Duration
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *zap.Logger
}

// New wraps next with a cache. A nil client returns next unchanged.
func New(next Fetcher, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) (Fetcher, error) {
	if client == nil {
		return next, nil
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Cache{
		next:    next,
		client:  client,
		ttl:     ttl,
		encoder: encoder,
		decoder: decoder,
		logger:  logger.Named("feature-cache"),
	}, nil
}

// Key derives the cache key. Category order does not matter.
func Key(bbox geo.BoundingBox, categories []models.Category) string {
	parts := make([]string, len(categories))
	for i, c := range categories {
		parts[i] = c.Key + "=" + c.Value
	}
	sort.Strings(parts)

	h := sha256.New()
	fmt.Fprintf(h, "%.7f,%.7f,%.7f,%.7f|", bbox.MinLon, bbox.MinLat, bbox.MaxLon, bbox.MaxLat)
	h.Write([]byte(strings.Join(parts, "&")))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) Fetch(ctx context.Context, bbox geo.BoundingBox, categories []models.Category) ([]models.Feature, error) {
	key := Key(bbox, categories)

	if features, ok := c.get(ctx, key); ok {
		metrics.FeatureCacheHitsTotal.Inc()
		return features, nil
	}
	metrics.FeatureCacheMissesTotal.Inc()

	features, err := c.next.Fetch(ctx, bbox, categories)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, features)
	return features, nil
}

func (c *Cache) get(ctx context.Context, key string) ([]models.Feature, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Feature cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	features, err := c.decode(raw)
	if err != nil {
		c.logger.Warn("Discarding corrupt feature cache entry", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, key).Err()
		return nil, false
	}
	return features, true
}

func (c *Cache) set(ctx context.Context, key string, features []models.Feature) {
	raw, err := c.encode(features)
	if err != nil {
		c.logger.Warn("Failed to encode features for cache", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Feature cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) encode(features []models.Feature) ([]byte, error) {
	if features == nil {
		features = []models.Feature{}
	}
	data, err := json.Marshal(features)
	if err != nil {
		return nil, err
	}
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
}

func (c *Cache) decode(raw []byte) ([]models.Feature, error) {
	data, err := c.decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	var features []models.Feature
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return features, nil
}
