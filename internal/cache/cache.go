// Package cache stores rendered report payloads in Redis.
//
// Entries are keyed by a generation counter. Invalidate bumps the counter,
// so every batch upload orphans all earlier entries at once; orphans expire
// by TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/enrolment/internal/config"
	"github.com/JonMunkholm/enrolment/internal/core"
	"github.com/JonMunkholm/enrolment/internal/logging"
	"github.com/JonMunkholm/enrolment/internal/metrics"
)

const keyPrefix = "enrolment:report:"

// generationKey holds the current generation number.
const generationKey = keyPrefix + "generation"

// Cache is a Redis-backed report cache. A nil *Cache is valid and never hits.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to the Redis server in cfg.
// Returns nil if the URL is empty (caching disabled).
func New(ctx context.Context, cfg config.CacheConfig) (*Cache, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(client, cfg.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) generation(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *Cache) key(ctx context.Context, report core.Report, term string) (string, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d:%s:%s", keyPrefix, gen, report, term), nil
}

// Get returns the cached payload for report and term.
func (c *Cache) Get(ctx context.Context, report core.Report, term string) (json.RawMessage, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	key, err := c.key(ctx, report, term)
	if err != nil {
		return nil, false, err
	}
	return c.get(ctx, key)
}

// Set stores payload for report and term under the current generation.
func (c *Cache) Set(ctx context.Context, report core.Report, term string, payload []byte) error {
	if c == nil {
		return nil
	}
	key, err := c.key(ctx, report, term)
	if err != nil {
		return err
	}
	return c.set(ctx, key, payload)
}

func (c *Cache) get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(b), true, nil
}

func (c *Cache) set(ctx context.Context, key string, payload []byte) error {
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

// Invalidate starts a new generation. It implements core.Invalidator.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Incr(ctx, generationKey).Err()
}

// Health pings Redis.
func (c *Cache) Health(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// Runner computes a report.
type Runner interface {
	Run(ctx context.Context, report core.Report, term string) (any, error)
}

// Reports serves reports from the cache and falls back to next on a miss.
// Cache failures are logged and never fail the request.
type Reports struct {
	next    Runner
	cache   *Cache
	metrics *metrics.Metrics
}

// NewReports wraps next. A nil cache passes every call through.
func NewReports(next Runner, c *Cache, m *metrics.Metrics) *Reports {
	return &Reports{next: next, cache: c, metrics: m}
}

// Run implements Runner. Hits are returned as json.RawMessage.
//
// The generation is read once, before the report runs, and the result is
// stored under that generation. A batch upload that invalidates while the
// report is computing therefore orphans the entry instead of publishing it
// as the new generation.
func (r *Reports) Run(ctx context.Context, report core.Report, term string) (any, error) {
	if r.cache == nil {
		return r.next.Run(ctx, report, term)
	}
	log := logging.WithFields(ctx, "report", report)

	key, err := r.cache.key(ctx, report, term)
	if err != nil {
		log.Warn("report cache read failed", "error", err)
		r.metrics.IncrementCacheLookup(string(report), false)
		return r.encode(ctx, report, term, "")
	}

	payload, ok, err := r.cache.get(ctx, key)
	if err != nil {
		log.Warn("report cache read failed", "error", err)
	}
	r.metrics.IncrementCacheLookup(string(report), ok)
	if ok {
		return payload, nil
	}
	return r.encode(ctx, report, term, key)
}

// encode runs the report and, when key is set, stores the result under it.
func (r *Reports) encode(ctx context.Context, report core.Report, term, key string) (any, error) {
	result, err := r.next.Run(ctx, report, term)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", report, err)
	}
	if key == "" {
		return json.RawMessage(b), nil
	}
	if err := r.cache.set(ctx, key, b); err != nil {
		logging.WithFields(ctx, "report", report).Warn("report cache write failed", "error", err)
	}
	return json.RawMessage(b), nil
}

var _ core.Invalidator = (*Cache)(nil)
