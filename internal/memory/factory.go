package memory

import (
	"context"
	"fmt"
	"strings"
)

// BackendConfig selects and configures a Backend.
type BackendConfig struct {
	// Kind is auto, inmemory, chromem or postgres.
	Kind        string
	Path        string
	DatabaseURL string
	Dim         int
}

// NewBackend creates a postgres-backed store when a database is configured,
// otherwise chromem (persistent when Path is set).
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" || kind == "auto" {
		kind = "chromem"
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			kind = "postgres"
		}
	}
	switch kind {
	case "inmemory":
		return NewInMemoryBackend(), nil
	case "chromem":
		return NewChromemBackend(cfg.Path)
	case "postgres":
		return NewPostgresBackend(ctx, cfg.DatabaseURL, cfg.Dim)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Kind)
	}
}
