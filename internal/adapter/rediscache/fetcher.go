// Package rediscache shares data-lake fetch results between service instances
// and restarts through Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/islandhamstar/covid-impact/internal/adapter/datalake"
	"github.com/islandhamstar/covid-impact/internal/domain"
	"github.com/islandhamstar/covid-impact/internal/observability"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces cache entries in a shared Redis database.
const KeyPrefix = "covid_impact:fetch:"

// Store is the subset of the Redis client used by the cache. *redis.Client
// satisfies it.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Fetcher wraps a Fetcher with a Redis cache of per-region results. Redis
// failures never fail a fetch: they are logged and the inner fetcher is used.
type Fetcher struct {
	inner   domain.Fetcher
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewClient opens a Redis client. Connections are established lazily.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// New creates a Redis cache decorator around a fetcher. Entries expire after ttl.
func New(inner domain.Fetcher, store Store, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	return &Fetcher{
		inner:   inner,
		store:   store,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

// Ping checks that Redis is reachable.
func (f *Fetcher) Ping(ctx context.Context) error {
	if err := f.store.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (f *Fetcher) Fetch(ctx context.Context, dataset string, regions []string, r domain.DateRange) ([]domain.TimeSeriesPoint, error) {
	var out []domain.TimeSeriesPoint
	for _, region := range regions {
		key := KeyPrefix + datalake.CacheKey(dataset, region, r)
		if points, ok := f.get(ctx, key); ok {
			out = append(out, points...)
			continue
		}

		points, err := f.inner.Fetch(ctx, dataset, []string{region}, r)
		if err != nil {
			return nil, err
		}
		if len(points) > 0 {
			f.set(ctx, key, points)
		}
		out = append(out, points...)
	}
	return out, nil
}

func (f *Fetcher) get(ctx context.Context, key string) ([]domain.TimeSeriesPoint, bool) {
	data, err := f.store.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		f.metrics.FetchCache.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	if err != nil {
		f.metrics.FetchCache.WithLabelValues("redis", "error").Inc()
		f.logger.Warn("redis cache read failed, fetching from data lake", "key", key, "error", err)
		return nil, false
	}

	var points []domain.TimeSeriesPoint
	if err := json.Unmarshal(data, &points); err != nil {
		f.metrics.FetchCache.WithLabelValues("redis", "error").Inc()
		f.logger.Warn("discarding corrupt redis cache entry", "key", key, "error", err)
		return nil, false
	}
	f.metrics.FetchCache.WithLabelValues("redis", "hit").Inc()
	return points, true
}

func (f *Fetcher) set(ctx context.Context, key string, points []domain.TimeSeriesPoint) {
	data, err := json.Marshal(points)
	if err != nil {
		f.logger.Warn("encode redis cache entry", "key", key, "error", err)
		return
	}
	if err := f.store.Set(ctx, key, data, f.ttl).Err(); err != nil {
		f.metrics.FetchCache.WithLabelValues("redis", "error").Inc()
		f.logger.Warn("redis cache write failed", "key", key, "error", err)
	}
}
