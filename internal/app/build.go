package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/httpapi"
	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/memory/embed"
	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/pipeline"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Pipeline *pipeline.Orchestrator
	Store    *memory.Store
	Metrics  *observability.Metrics
	Info     httpapi.Info

	// Cleanup should be called on shutdown to release external resources (DB, caches).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	backendKind := resolveBackend(cfg)
	backend, err := memory.NewBackend(ctx, memory.BackendConfig{
		Kind:        backendKind,
		Path:        cfg.MemoryPath,
		DatabaseURL: cfg.DatabaseURL,
		Dim:         cfg.MemoryEmbeddingDim,
	})
	if err != nil {
		return nil, fmt.Errorf("memory backend init failed: %w", err)
	}

	embedder, closeEmbedder, err := embed.New(ctx, embed.Config{
		Provider:      cfg.MemoryEmbedder,
		Model:         cfg.MemoryEmbeddingModel,
		Dim:           cfg.MemoryEmbeddingDim,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OllamaBaseURL: cfg.OllamaBaseURL,
		CacheEntries:  cfg.EmbedCacheSize,
		CacheTTL:      cfg.EmbedCacheTTL,
		RedisURL:      cfg.RedisURL,
	}, log, metrics)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("embedder init failed: %w", err)
	}

	store := memory.NewStore(backend, embedder,
		memory.WithLogger(log.With().Str("component", "memory").Logger()),
		memory.WithMetrics(metrics),
		memory.WithRedaction(cfg.MemoryRedactPII),
		memory.WithWriteRetry(cfg.MemoryWriteAttempts, 0),
	)

	model, err := llm.NewModel(ctx, llm.Config{
		Provider:         cfg.LLMProvider,
		FallbackProvider: cfg.LLMFallbackProvider,
		Model:            cfg.LLMModel,
		BaseURL:          cfg.LLMBaseURL,
		Temperature:      cfg.LLMTemperature,
		MaxTokens:        cfg.LLMMaxTokens,
		Timeout:          cfg.LLMTimeout,
		HTTPURL:          cfg.LLMHTTPURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		OllamaBaseURL:    cfg.OllamaBaseURL,
	})
	if err != nil {
		closeEmbedder()
		_ = store.Close()
		return nil, fmt.Errorf("llm init failed: %w", err)
	}

	orchestrator := pipeline.New(store, model,
		pipeline.WithLogger(log.With().Str("component", "pipeline").Logger()),
		pipeline.WithMetrics(metrics),
		pipeline.WithSearchLimit(cfg.MemorySearchLimit),
	)

	info := httpapi.Info{
		MemoryBackend: backendKind,
		Embedder:      cfg.MemoryEmbedder,
		Model:         llm.Name(model),
	}
	api := httpapi.New(cfg, orchestrator, info, log.With().Str("component", "httpapi").Logger(), metrics)

	log.Info().
		Str("memory_backend", info.MemoryBackend).
		Str("model", info.Model).
		Bool("redact_pii", cfg.MemoryRedactPII).
		Msg("pipeline ready")

	cleanup := func() error {
		closeEmbedder()
		var errs []error
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Pipeline: orchestrator,
		Store:    store,
		Metrics:  metrics,
		Info:     info,
		Cleanup:  cleanup,
	}, nil
}

// resolveBackend turns "auto" into the concrete backend name.
func resolveBackend(cfg config.Config) string {
	kind := strings.ToLower(strings.TrimSpace(cfg.MemoryBackend))
	if kind != "" && kind != "auto" {
		return kind
	}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		return "postgres"
	}
	return "chromem"
}
