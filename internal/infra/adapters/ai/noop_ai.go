package ai

import (
	"context"
	"encoding/json"
	"time"

	"docqa-engine/internal/domain/ports/adapter"
)

var _ adapter.ModelPort = (*NoopAIAdapter)(nil)

// NoopAIAdapter implements adapter.ModelPort for local/dev testing.
// It answers every prompt with a final reply and never calls a provider.
type NoopAIAdapter struct {
	Delay time.Duration
}

func NewNoopAIAdapter() *NoopAIAdapter {
	return &NoopAIAdapter{Delay: 100 * time.Millisecond}
}

func (a *NoopAIAdapter) Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error) {
	// Simulate processing time and respect ctx
	select {
	case <-time.After(a.Delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	raw, err := json.Marshal(map[string]any{
		"assistant_text": "This is a noop AI response.",
		"actions":        []any{map[string]any{"type": "final", "confidence": "low"}},
		"is_final":       true,
	})
	if err != nil {
		return nil, err
	}
	return &adapter.CompletionResponse{
		Raw:      raw,
		Provider: "noop",
		Usage:    adapter.Usage{PromptTokens: len(req.UserPrompt) / 4, CompletionTokens: len(raw) / 4, TotalTokens: (len(req.UserPrompt) + len(raw)) / 4},
	}, nil
}
