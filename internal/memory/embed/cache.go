package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dgraph-io/ristretto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ent0n29/solace/internal/observability"
)

// Embedder matches memory.Embedder; redeclared to avoid an import cycle.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SharedCache is a second-tier cache shared between processes.
type SharedCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error
}

// Cached memoizes an Embedder in a local ristretto cache and, optionally, a
// shared cache. Cache failures fall through to the wrapped embedder.
type Cached struct {
	next      Embedder
	namespace string
	local     *ristretto.Cache
	shared    SharedCache
	ttl       time.Duration
	log       zerolog.Logger
	metrics   *observability.Metrics
}

type CacheOption func(*Cached)

func WithShared(s SharedCache) CacheOption {
	return func(c *Cached) { c.shared = s }
}

func WithCacheLogger(l zerolog.Logger) CacheOption {
	return func(c *Cached) { c.log = l }
}

func WithCacheMetrics(m *observability.Metrics) CacheOption {
	return func(c *Cached) { c.metrics = m }
}

// NewCached wraps next. namespace separates keys of different embedding
// models; maxEntries bounds the local cache.
func NewCached(next Embedder, namespace string, maxEntries int64, ttl time.Duration, opts ...CacheOption) (*Cached, error) {
	if maxEntries <= 0 {
		return nil, errors.New("embedding cache size must be positive")
	}
	local, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	c := &Cached{
		next:      next,
		namespace: namespace,
		local:     local,
		ttl:       ttl,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if v, ok := c.local.Get(key); ok {
		c.metrics.ObserveEmbedCache("local", true)
		return cloneVec(v.([]float32)), nil
	}
	c.metrics.ObserveEmbedCache("local", false)

	if c.shared != nil {
		vec, ok, err := c.shared.Get(ctx, key)
		if err != nil {
			c.log.Warn().Err(err).Msg("shared embedding cache read failed")
		}
		c.metrics.ObserveEmbedCache("shared", ok)
		if ok {
			c.store(key, vec)
			return cloneVec(vec), nil
		}
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(key, vec)
	if c.shared != nil {
		if err := c.shared.Set(ctx, key, vec, c.ttl); err != nil {
			c.log.Warn().Err(err).Msg("shared embedding cache write failed")
		}
	}
	return cloneVec(vec), nil
}

// Wait blocks until buffered local writes are applied.
func (c *Cached) Wait() { c.local.Wait() }

func (c *Cached) Close() { c.local.Close() }

func (c *Cached) store(key string, vec []float32) {
	c.local.SetWithTTL(key, cloneVec(vec), 1, c.ttl)
}

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}

func cloneVec(v []float32) []float32 {
	return append([]float32(nil), v...)
}

// RedisCache is a SharedCache backed by Redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var vec []float32
	if err := sonic.Unmarshal(data, &vec); err != nil {
		return nil, false, fmt.Errorf("decode cached embedding: %w", err)
	}
	return vec, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error {
	data, err := sonic.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
