package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoModel adapts an eino chat model (OpenAI-compatible or Ollama).
type EinoModel struct {
	name  string
	model model.BaseChatModel
}

func NewEinoModel(name string, m model.BaseChatModel) *EinoModel {
	return &EinoModel{name: name, model: m}
}

// NewOpenAIModel talks to OpenAI or any OpenAI-compatible endpoint at BaseURL.
func NewOpenAIModel(ctx context.Context, cfg Config) (*EinoModel, error) {
	name := cfg.Model
	if name == "" {
		name = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	temperature := float32(cfg.Temperature)
	m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.BaseURL,
		Model:       name,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create openai chat model: %w", err)
	}
	return NewEinoModel("openai:"+name, m), nil
}

func NewOllamaModel(ctx context.Context, cfg Config) (*EinoModel, error) {
	name := cfg.Model
	if name == "" {
		name = "llama3.1"
	}
	baseURL := cfg.OllamaBaseURL
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	m, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   name,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create ollama chat model: %w", err)
	}
	return NewEinoModel("ollama:"+name, m), nil
}

func (e *EinoModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	out, err := e.model.Generate(ctx, toSchema(messages))
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", e.name, err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", ErrEmptyReply
	}
	return out.Content, nil
}

func toSchema(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}
