// Package rediscache wraps a Redis client used to mirror the Store's
// negative AddressMetadataCache across crawler replicas, adapted from the
// teacher's internal/cache package (same instrumented Publish/Subscribe
// wrapper), generalized from user-presence keys to address-cache keys.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var redisLatency metric.Float64Histogram

// NegativeCacheChannel is the pub/sub channel replicas publish address
// metadata invalidations/updates on.
const NegativeCacheChannel = "muclumbus:addrcache"

// Cache wraps a redis.Client with tracing/metrics, same as the teacher's
// Cache type.
type Cache struct {
	client *redis.Client
}

// New parses dsn and connects, instrumenting the initial ping the same way
// internal/cache/cache.go does.
func New(dsn string) (*Cache, error) {
	var err error

	meter := otel.Meter("redis-client")
	redisLatency, err = meter.Float64Histogram("redis.command.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create redis.command.latency instrument: %w", err)
	}

	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, span := otel.Tracer("redis-client").Start(context.Background(), "redis.ping")
	defer span.End()
	if err := client.Ping(ctx).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to ping Redis")
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	span.SetStatus(codes.Ok, "Redis connected successfully")

	return &Cache{client: client}, nil
}

// Close releases the underlying client's resources.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying redis.Client so other components (the
// admin API's rate limiter) can share this Cache's connection instead of
// opening a second one.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// AddressCacheEntry is the payload mirrored between replicas for a single
// negatively-cached address.
type AddressCacheEntry struct {
	Address   string    `json:"address"`
	Reachable bool      `json:"is_reachable"`
	Service   bool      `json:"is_chat_service"`
	Joinable  bool      `json:"is_joinable"`
	Indexable bool      `json:"is_indexable"`
	Banned    bool      `json:"is_banned"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PublishInvalidate publishes entry so other replicas update their local
// LRU view without each hitting the remote chat network independently.
func (c *Cache) PublishInvalidate(ctx context.Context, entry AddressCacheEntry) error {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.publish",
		trace.WithAttributes(attribute.String("redis.channel", NegativeCacheChannel)))
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("redis.command", "publish")))
		span.End()
	}()

	payload, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal address cache entry")
		return fmt.Errorf("rediscache: marshal: %w", err)
	}

	if err := c.client.Publish(ctx, NegativeCacheChannel, payload).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redis publish failed")
		return err
	}
	return nil
}

// Subscribe returns a channel of decoded entries published by any replica,
// including this one. Callers should ignore their own publications by
// address+expiry comparison if strict dedupe matters; the negative cache
// is idempotent under redundant application so this is a best-effort
// optimisation, not a correctness requirement.
func (c *Cache) Subscribe(ctx context.Context) (<-chan AddressCacheEntry, func()) {
	pubsub := c.client.Subscribe(ctx, NegativeCacheChannel)
	out := make(chan AddressCacheEntry, 64)

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for msg := range ch {
			var entry AddressCacheEntry
			if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
				continue
			}
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = pubsub.Close() }
}
