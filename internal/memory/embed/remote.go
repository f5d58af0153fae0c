package embed

import (
	"context"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// Func adapts a chromem embedding func to the memory Embedder interface.
type Func struct {
	name string
	fn   chromem.EmbeddingFunc
}

func (f *Func) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := f.fn(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", f.name, err)
	}
	return vec, nil
}

func (f *Func) Name() string { return f.name }

func NewOpenAI(apiKey, model string) *Func {
	if model == "" {
		model = string(chromem.EmbeddingModelOpenAI3Small)
	}
	return &Func{name: "openai:" + model, fn: chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model))}
}

// NewOllama embeds through an Ollama server. baseURL is the server root,
// e.g. http://localhost:11434.
func NewOllama(baseURL, model string) *Func {
	if model == "" {
		model = "nomic-embed-text"
	}
	api := strings.TrimRight(baseURL, "/")
	if api != "" && !strings.HasSuffix(api, "/api") {
		api += "/api"
	}
	return &Func{name: "ollama:" + model, fn: chromem.NewEmbeddingFuncOllama(model, api)}
}
