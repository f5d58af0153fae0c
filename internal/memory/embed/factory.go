package embed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/solace/internal/observability"
)

type Config struct {
	// Provider is auto, hashing, openai or ollama.
	Provider      string
	Model         string
	Dim           int
	OpenAIAPIKey  string
	OllamaBaseURL string

	CacheEntries int64
	CacheTTL     time.Duration
	RedisURL     string
}

// New builds the configured embedder, wrapped in a cache when CacheEntries > 0.
// The returned close func releases cache resources.
func New(ctx context.Context, cfg Config, log zerolog.Logger, metrics *observability.Metrics) (Embedder, func(), error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" || provider == "auto" {
		provider = "hashing"
		if cfg.OpenAIAPIKey != "" {
			provider = "openai"
		}
	}

	var (
		base      Embedder
		namespace string
	)
	switch provider {
	case "hashing":
		base = NewHashing(cfg.Dim)
		namespace = fmt.Sprintf("hashing:%d", cfg.Dim)
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, nil, fmt.Errorf("openai embedder requires OPENAI_API_KEY")
		}
		f := NewOpenAI(cfg.OpenAIAPIKey, cfg.Model)
		base, namespace = f, f.Name()
	case "ollama":
		f := NewOllama(cfg.OllamaBaseURL, cfg.Model)
		base, namespace = f, f.Name()
	default:
		return nil, nil, fmt.Errorf("unknown embedder %q (expected auto|hashing|openai|ollama)", cfg.Provider)
	}
	log.Info().Str("embedder", namespace).Msg("embedder configured")

	if cfg.CacheEntries <= 0 {
		return base, func() {}, nil
	}

	opts := []CacheOption{WithCacheLogger(log), WithCacheMetrics(metrics)}
	var shared *RedisCache
	if cfg.RedisURL != "" {
		var err error
		shared, err = NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, WithShared(shared))
	}
	cached, err := NewCached(base, namespace, cfg.CacheEntries, cfg.CacheTTL, opts...)
	if err != nil {
		if shared != nil {
			_ = shared.Close()
		}
		return nil, nil, err
	}
	closeFn := func() {
		cached.Close()
		if shared != nil {
			_ = shared.Close()
		}
	}
	return cached, closeFn, nil
}
