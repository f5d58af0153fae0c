package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Model is a chat language model that produces a single complete reply.
type Model interface {
	Invoke(ctx context.Context, messages []Message) (string, error)
}

// ErrEmptyReply is returned when a provider answers with no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Config controls model construction.
type Config struct {
	Provider         string
	FallbackProvider string
	Model            string
	BaseURL          string
	Temperature      float64
	MaxTokens        int
	Timeout          time.Duration
	HTTPURL          string
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	OllamaBaseURL    string
}

// NewModel builds the configured provider, wrapped in a FallbackModel when a
// fallback provider is named.
func NewModel(ctx context.Context, cfg Config) (Model, error) {
	primary, err := newProvider(ctx, cfg, cfg.Provider)
	if err != nil {
		return nil, err
	}
	fb := strings.TrimSpace(cfg.FallbackProvider)
	if fb == "" || strings.EqualFold(fb, cfg.Provider) {
		return primary, nil
	}
	secondary, err := newProvider(ctx, cfg, fb)
	if err != nil {
		return nil, fmt.Errorf("fallback provider: %w", err)
	}
	return NewFallbackModel(primary, secondary), nil
}

func newProvider(ctx context.Context, cfg Config, provider string) (Model, error) {
	mode := strings.ToLower(strings.TrimSpace(provider))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoModel(ctx, cfg)
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		return NewAnthropicModel(cfg), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" && cfg.BaseURL == "" {
			return nil, errors.New("OPENAI_API_KEY or LLM_BASE_URL is required for the openai provider")
		}
		return NewOpenAIModel(ctx, cfg)
	case "ollama":
		return NewOllamaModel(ctx, cfg)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("LLM_HTTP_URL is required for the http provider")
		}
		return NewHTTPModel(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockModel(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", provider)
	}
}

func newAutoModel(ctx context.Context, cfg Config) (Model, error) {
	switch {
	case cfg.AnthropicAPIKey != "":
		return NewAnthropicModel(cfg), nil
	case cfg.OpenAIAPIKey != "":
		return NewOpenAIModel(ctx, cfg)
	case strings.TrimSpace(cfg.HTTPURL) != "":
		return NewHTTPModel(cfg.HTTPURL, cfg.Timeout), nil
	default:
		return NewMockModel(), nil
	}
}

// Name describes m for logs.
func Name(m Model) string {
	switch v := m.(type) {
	case *AnthropicModel:
		return "anthropic:" + v.model
	case *EinoModel:
		return v.name
	case *HTTPModel:
		return "http"
	case *MockModel:
		return "mock"
	case *FallbackModel:
		return Name(v.primary) + "+" + Name(v.fallback)
	default:
		return fmt.Sprintf("%T", m)
	}
}

func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
