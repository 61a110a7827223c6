// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/ports/adapter"
	"docqa-engine/internal/infra/metrics"
)

var _ adapter.ModelPort = (*MultiAIAdapter)(nil)

type MultiAIAdapter struct {
	defaultProvider string // e.g., "gemini" or "openai"
	byProvider      map[string]adapter.ModelPort
	modelToProvider map[string]string // model -> provider ("gemini" | "openai" | "anthropic")
}

// NewMultiAIAdapter does not inject any default model; it only knows a default provider.
// Each provider adapter is responsible for its own default model.
func NewMultiAIAdapter(
	defaultProvider string,
	byProvider map[string]adapter.ModelPort,
	modelToProvider map[string]string,
) *MultiAIAdapter {
	providers := make(map[string]adapter.ModelPort, len(byProvider))
	for name, p := range byProvider {
		if p != nil {
			providers[strings.ToLower(name)] = p
		}
	}
	return &MultiAIAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      providers,
		modelToProvider: modelToProvider,
	}
}

// ResolveProvider names the provider that serves model.
func (m *MultiAIAdapter) ResolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"), strings.HasPrefix(l, "o4"):
		return "openai"
	case strings.HasPrefix(l, "claude"):
		return "anthropic"
	default:
		return m.defaultProvider
	}
}

// Providers lists configured provider names.
func (m *MultiAIAdapter) Providers() []string {
	out := make([]string, 0, len(m.byProvider))
	for name := range m.byProvider {
		out = append(out, name)
	}
	return out
}

func (m *MultiAIAdapter) Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error) {
	prov := m.ResolveProvider(req.Model)
	a := m.byProvider[prov]
	if a == nil {
		return nil, fmt.Errorf("%w: no %q provider configured for model %q", domain.ErrUnsupportedModel, prov, req.Model)
	}

	start := time.Now()
	resp, err := a.Complete(ctx, req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		metrics.ObserveModelCall(prov, req.Model, 0, 0, 0, latency, "error")
		return nil, err
	}
	if resp.Provider == "" {
		resp.Provider = prov
	}
	metrics.ObserveModelCall(prov, req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens, latency, "ok")
	return resp, nil
}
