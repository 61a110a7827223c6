package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"docqa-engine/internal/config"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
	aiAdapters "docqa-engine/internal/infra/adapters/ai"
	"docqa-engine/internal/infra/logging"
)

type modelSet struct {
	port     adapter.ModelPort
	uploader adapter.FileUploader
	catalog  model.ModelCatalog
}

// buildModels wires every configured provider behind one router and a shared
// concurrency cap.
func buildModels(ctx context.Context, cfg config.AIConfig, logger *zerolog.Logger) (*modelSet, error) {
	log := logging.Component(logger, "AI")
	if cfg.DefaultProvider == "noop" {
		log.Warn().Msg("noop provider selected; replies are canned")
		return &modelSet{
			port:     aiAdapters.NewNoopAIAdapter(),
			uploader: aiAdapters.InlineUploader{},
		}, nil
	}

	defaultFor := func(provider string) string {
		if provider == cfg.DefaultProvider {
			return cfg.DefaultModel
		}
		return ""
	}

	providers := map[string]adapter.ModelPort{}
	var uploader adapter.FileUploader = aiAdapters.InlineUploader{}

	if cfg.GeminiKey != "" {
		client, err := aiAdapters.NewGeminiClient(ctx, cfg.GeminiKey, cfg.GeminiURL)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		providers["gemini"] = aiAdapters.NewGeminiAdapter(client, defaultFor("gemini"), cfg.MaxOutputTokens)
		// Gemini file URIs are only readable by Gemini, so the Files API is
		// used only when no other provider can receive the same refs.
		if cfg.OpenAIKey == "" && cfg.AnthropicKey == "" {
			uploader = aiAdapters.NewGeminiFiles(client)
		}
	}
	if cfg.OpenAIKey != "" {
		oa, err := aiAdapters.NewOpenAIAdapter(cfg.OpenAIKey, cfg.OpenAIBaseURL, defaultFor("openai"), cfg.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		providers["openai"] = oa
	}
	if cfg.AnthropicKey != "" {
		an, err := aiAdapters.NewAnthropicAdapter(cfg.AnthropicKey, cfg.AnthropicURL, defaultFor("anthropic"), cfg.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("anthropic adapter: %w", err)
		}
		providers["anthropic"] = an
	}
	if _, ok := providers[cfg.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q has no api key", cfg.DefaultProvider)
	}

	router := aiAdapters.NewMultiAIAdapter(cfg.DefaultProvider, providers, cfg.ModelProviders)
	names := router.Providers()
	sort.Strings(names)
	log.Info().
		Strs("providers", names).
		Str("default_provider", cfg.DefaultProvider).
		Str("default_model", cfg.DefaultModel).
		Int("concurrent_limit", cfg.ConcurrentLimit).
		Msg("model providers ready")

	return &modelSet{
		port:     aiAdapters.NewLimitedAI(router, cfg.ConcurrentLimit),
		uploader: uploader,
		catalog:  aiAdapters.Catalog(cfg),
	}, nil
}
