package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/pipeline"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		MetricsNamespace:    fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		RequestTimeout:      time.Second,
		LLMProvider:         "mock",
		LLMMaxTokens:        64,
		MemoryBackend:       "chromem",
		MemoryPath:          t.TempDir(),
		MemoryEmbedder:      "hashing",
		MemoryEmbeddingDim:  64,
		MemorySearchLimit:   3,
		MemoryWriteAttempts: 1,
		EmbedCacheSize:      32,
		EmbedCacheTTL:       time.Minute,
	}
}

func TestBuildWiresRunnablePipeline(t *testing.T) {
	res, err := Build(context.Background(), testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	if res.Info.Model != "mock" || res.Info.MemoryBackend != "chromem" {
		t.Fatalf("Info = %+v", res.Info)
	}

	turns := []pipeline.Turn{{Role: llm.RoleUser, Content: "I have a job interview tomorrow"}}
	out, err := res.Pipeline.Run(context.Background(), turns, "u1", "c1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Reply == "" || len(out.Turns) != 2 {
		t.Fatalf("Run() = %+v", out)
	}

	facts := res.Store.Search(context.Background(), "semantic", "u1", "interview", 3)
	if len(facts) != 1 {
		t.Fatalf("semantic facts = %v, want the extracted interview fact", facts)
	}
}

func TestResolveBackend(t *testing.T) {
	cases := []struct {
		cfg  config.Config
		want string
	}{
		{config.Config{MemoryBackend: "auto"}, "chromem"},
		{config.Config{MemoryBackend: "auto", DatabaseURL: "postgres://x"}, "postgres"},
		{config.Config{MemoryBackend: "inmemory", DatabaseURL: "postgres://x"}, "inmemory"},
	}
	for _, tc := range cases {
		if got := resolveBackend(tc.cfg); got != tc.want {
			t.Fatalf("resolveBackend(%+v) = %q, want %q", tc.cfg, got, tc.want)
		}
	}
}
