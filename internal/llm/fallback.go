package llm

import (
	"context"
	"errors"
	"fmt"
)

// FallbackModel attempts a primary model first and falls back on error.
type FallbackModel struct {
	primary  Model
	fallback Model
}

func NewFallbackModel(primary, fallback Model) *FallbackModel {
	return &FallbackModel{primary: primary, fallback: fallback}
}

func (f *FallbackModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	if f == nil || f.primary == nil {
		if f != nil && f.fallback != nil {
			return f.fallback.Invoke(ctx, messages)
		}
		return "", fmt.Errorf("fallback model misconfigured")
	}
	out, err := f.primary.Invoke(ctx, messages)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return "", err
	}
	if f.fallback == nil {
		return "", err
	}
	out, fbErr := f.fallback.Invoke(ctx, messages)
	if fbErr != nil {
		return "", fmt.Errorf("primary model error: %w; fallback model error: %v", err, fbErr)
	}
	return out, nil
}
