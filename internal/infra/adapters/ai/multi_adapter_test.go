package ai_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docqa-engine/internal/config"
	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
	ai "docqa-engine/internal/infra/adapters/ai"
	"docqa-engine/internal/usecase"
)

type stubAI struct {
	name      string
	calls     int
	lastModel string
	err       error
}

func (s *stubAI) Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error) {
	s.calls++
	s.lastModel = req.Model
	if s.err != nil {
		return nil, s.err
	}
	return &adapter.CompletionResponse{Raw: []byte(`{}`), Usage: adapter.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}}, nil
}

func TestRouting_ExplicitMap_Heuristics_And_Fallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	open := &stubAI{name: "openai"}
	gem := &stubAI{name: "gemini"}
	claude := &stubAI{name: "anthropic"}

	m := ai.NewMultiAIAdapter(
		"gemini",
		map[string]adapter.ModelPort{"openai": open, "gemini": gem, "anthropic": claude},
		map[string]string{"custom-x": "openai"},
	)

	// explicit map wins
	resp, err := m.Complete(ctx, adapter.CompletionRequest{Model: "custom-x"})
	if err != nil || open.calls != 1 || gem.calls != 0 {
		t.Fatalf("explicit map should route to openai, got open:%d gem:%d err:%v", open.calls, gem.calls, err)
	}
	if resp.Provider != "openai" {
		t.Errorf("router should stamp the provider, got %q", resp.Provider)
	}

	// gpt-* and o-series -> openai
	_, _ = m.Complete(ctx, adapter.CompletionRequest{Model: "gpt-4o-mini"})
	_, _ = m.Complete(ctx, adapter.CompletionRequest{Model: "o3-mini"})
	if open.calls != 3 {
		t.Fatalf("heuristic gpt-*/o* should go openai, got %d", open.calls)
	}

	// gemini-* -> gemini
	_, _ = m.Complete(ctx, adapter.CompletionRequest{Model: "gemini-3-flash-preview"})
	if gem.calls != 1 {
		t.Fatalf("heuristic gemini-* should go gemini")
	}

	// claude-* -> anthropic
	_, _ = m.Complete(ctx, adapter.CompletionRequest{Model: "claude-sonnet-4-5"})
	if claude.calls != 1 || claude.lastModel != "claude-sonnet-4-5" {
		t.Fatalf("heuristic claude-* should go anthropic")
	}

	// unknown -> default provider (gemini)
	_, _ = m.Complete(ctx, adapter.CompletionRequest{Model: "unknown"})
	if gem.calls != 2 {
		t.Fatalf("unknown model should go to default provider (gemini)")
	}
}

func TestRouting_MissingProviderIsUnsupportedModel(t *testing.T) {
	t.Parallel()
	m := ai.NewMultiAIAdapter("gemini", map[string]adapter.ModelPort{"gemini": &stubAI{}, "openai": nil}, nil)

	_, err := m.Complete(context.Background(), adapter.CompletionRequest{Model: "gpt-4o"})
	if !errors.Is(err, domain.ErrUnsupportedModel) {
		t.Fatalf("expected unsupported model, got %v", err)
	}
	if domain.Classify(err) != domain.FailureFatal {
		t.Errorf("routing failures must be fatal")
	}
	if got := m.Providers(); len(got) != 1 || got[0] != "gemini" {
		t.Errorf("nil providers should be dropped, got %v", got)
	}
}

func TestRouting_PassesProviderErrorsThrough(t *testing.T) {
	t.Parallel()
	pe := domain.NewProviderError("gemini", 503, errors.New("overloaded"))
	m := ai.NewMultiAIAdapter("gemini", map[string]adapter.ModelPort{"gemini": &stubAI{err: pe}}, nil)

	_, err := m.Complete(context.Background(), adapter.CompletionRequest{Model: "gemini-3-pro-preview"})
	var got *domain.ProviderError
	if !errors.As(err, &got) || got.StatusCode != 503 {
		t.Fatalf("expected the provider error, got %v", err)
	}
	if domain.Classify(err) != domain.FailureTransient {
		t.Errorf("503 should be transient")
	}
}

type slowAI struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowAI) Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return &adapter.CompletionResponse{Raw: []byte(`{}`)}, nil
}

func TestLimitedAI_CapsConcurrency(t *testing.T) {
	t.Parallel()
	inner := &slowAI{}
	limited := ai.NewLimitedAI(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := limited.Complete(context.Background(), adapter.CompletionRequest{}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if p := inner.peak.Load(); p > 2 {
		t.Fatalf("expected at most 2 concurrent calls, saw %d", p)
	}

	if ai.NewLimitedAI(inner, 0) != adapter.ModelPort(inner) {
		t.Error("a non-positive limit should return the inner adapter")
	}
}

func TestLimitedAI_HonoursCancellation(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	inner := &blockingAI{release: block}
	limited := ai.NewLimitedAI(inner, 1)

	go func() { _, _ = limited.Complete(context.Background(), adapter.CompletionRequest{}) }()
	for inner.started.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := limited.Complete(ctx, adapter.CompletionRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("waiting for a slot should stop at the deadline, got %v", err)
	}
	close(block)
}

type blockingAI struct {
	started atomic.Int32
	release chan struct{}
}

func (b *blockingAI) Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error) {
	b.started.Add(1)
	<-b.release
	return &adapter.CompletionResponse{Raw: []byte(`{}`)}, nil
}

func TestNoopAIAdapter_ReturnsValidFinalReply(t *testing.T) {
	t.Parallel()
	noop := &ai.NoopAIAdapter{}
	resp, err := noop.Complete(context.Background(), adapter.CompletionRequest{UserPrompt: "what is the span?"})
	if err != nil {
		t.Fatal(err)
	}
	reply, err := usecase.NewReplyValidator().Validate(resp.Raw)
	if err != nil {
		t.Fatalf("noop reply should validate: %v", err)
	}
	if !reply.IsFinal || len(reply.Actions) != 1 {
		t.Errorf("unexpected reply %+v", reply)
	}
}

func TestCatalog_FollowsConfiguredProviders(t *testing.T) {
	t.Parallel()
	cat := ai.Catalog(config.AIConfig{
		GeminiKey:       "g",
		OpenAIKey:       "o",
		DefaultProvider: "gemini",
		DefaultModel:    "gpt-4o-mini",
		ModelProviders:  map[string]string{"house-model": "openai", "claude-x": "anthropic"},
	})

	if _, ok := cat["gemini-3-pro-preview"]; !ok {
		t.Fatal("gemini presets should be listed when gemini is configured")
	}
	if p, ok := cat["gpt-4o-mini"]; !ok || p.Provider != "openai" || len(p.Levels) != 0 {
		t.Fatalf("default model should accept any level, got %+v", p)
	}
	if _, ok := cat["house-model"]; !ok {
		t.Fatal("mapped models should be listed")
	}
	if _, ok := cat["claude-x"]; ok {
		t.Fatal("models of unconfigured providers must not be listed")
	}
	if _, err := cat.Resolve("gemini-3-pro-preview", model.ThinkingMedium); !errors.Is(err, domain.ErrUnsupportedEffort) {
		t.Fatalf("preset levels should still apply, got %v", err)
	}

	if ai.Catalog(config.AIConfig{AllowAnyModel: true, GeminiKey: "g"}) != nil {
		t.Fatal("allow_any_model should disable the catalog")
	}
	if ai.Catalog(config.AIConfig{DefaultProvider: "noop"}) != nil {
		t.Fatal("noop accepts any model")
	}
}
