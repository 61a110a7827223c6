package ai

import (
	"context"

	"docqa-engine/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ModelPort = (*limitedAI)(nil)

type limitedAI struct {
	inner adapter.ModelPort
	sem   chan struct{}
}

// NewLimitedAI caps concurrent provider calls across all workers.
func NewLimitedAI(inner adapter.ModelPort, maxConcurrent int) adapter.ModelPort {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Complete(ctx, req)
}
