package adapter

import (
	"context"

	"docqa-engine/internal/domain/model"
)

// Usage for a single completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is everything a provider needs for one structured call.
type CompletionRequest struct {
	SystemPrompt string
	History      []model.Message
	UserPrompt   string
	Files        []model.FileRef
	Model        string
	Thinking     model.ThinkingConfig
	// Schema is the JSON schema the reply must follow.
	Schema map[string]any
}

// CompletionResponse carries the raw structured payload. It is not trusted
// until it has passed the reply validator.
type CompletionResponse struct {
	Raw      []byte
	Provider string
	Usage    Usage
}

// ModelPort is the port for structured LLM completions. Errors should be
// *domain.ProviderError when the provider reported a status.
type ModelPort interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
