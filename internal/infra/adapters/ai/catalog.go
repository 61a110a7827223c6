package ai

import (
	"docqa-engine/internal/config"
	"docqa-engine/internal/domain/model"
)

// ConfiguredProviders names the providers that have an api key.
func ConfiguredProviders(cfg config.AIConfig) map[string]bool {
	out := map[string]bool{}
	if cfg.GeminiKey != "" {
		out["gemini"] = true
	}
	if cfg.OpenAIKey != "" {
		out["openai"] = true
	}
	if cfg.AnthropicKey != "" {
		out["anthropic"] = true
	}
	return out
}

// Catalog lists the models a deployment accepts. Gemini presets carry their
// thinking levels; models of other providers accept any level. A nil catalog
// accepts every model.
func Catalog(cfg config.AIConfig) model.ModelCatalog {
	if cfg.AllowAnyModel || cfg.DefaultProvider == "noop" {
		return nil
	}
	configured := ConfiguredProviders(cfg)
	routes := NewMultiAIAdapter(cfg.DefaultProvider, nil, cfg.ModelProviders)

	catalog := model.ModelCatalog{}
	for name, p := range model.DefaultModelCatalog() {
		if configured[p.Provider] {
			catalog[name] = p
		}
	}
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := catalog[name]; ok {
			return
		}
		if provider := routes.ResolveProvider(name); configured[provider] {
			catalog[name] = model.ModelProfile{Name: name, Provider: provider}
		}
	}
	add(cfg.DefaultModel)
	for name := range cfg.ModelProviders {
		add(name)
	}
	return catalog
}
