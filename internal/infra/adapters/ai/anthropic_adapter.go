package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
)

var _ adapter.ModelPort = (*AnthropicAdapter)(nil)

// replyTool is the single tool Claude is forced to call; its input is the reply.
const replyTool = "submit_reply"

// AnthropicAdapter implements adapter.ModelPort through a forced tool call,
// which is how the Messages API yields schema-shaped output.
type AnthropicAdapter struct {
	client       anthropic.Client
	defaultModel string
	maxOut       int64
}

func NewAnthropicAdapter(apiKey, baseURL, defaultModel string, maxOut int) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key empty")
	}
	if maxOut <= 0 {
		maxOut = 4096
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicAdapter{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
		maxOut:       int64(maxOut),
	}, nil
}

func (a *AnthropicAdapter) Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error) {
	msgs := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, m := range req.History {
		if m.Role == model.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Files)+1)
	for _, f := range req.Files {
		if b, ok := anthropicFileBlock(f); ok {
			blocks = append(blocks, b)
		}
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.UserPrompt))
	msgs = append(msgs, anthropic.NewUserMessage(blocks...))

	properties, _ := req.Schema["properties"].(map[string]any)
	tool := anthropic.ToolParam{
		Name:        replyTool,
		Description: anthropic.String("Submit the structured reply for this turn."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: properties,
			Required:   stringList(req.Schema["required"]),
		},
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelOrDefault(req.Model, a.defaultModel)),
		MaxTokens: a.maxOut,
		Messages:  msgs,
		Tools:     []anthropic.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: replyTool},
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, providerError("anthropic", err)
	}

	usage := adapter.Usage{
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
		TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.ToolUseBlock:
			if variant.Name != replyTool {
				continue
			}
			raw, err := json.Marshal(variant.Input)
			if err != nil {
				return nil, err
			}
			return &adapter.CompletionResponse{Raw: raw, Provider: "anthropic", Usage: usage}, nil
		}
	}
	return nil, domain.ErrEmptyModelResponse
}

// anthropicFileBlock maps inline images and PDFs to content blocks and public
// image URLs to URL sources. Other refs are skipped.
func anthropicFileBlock(f model.FileRef) (anthropic.ContentBlockParamUnion, bool) {
	meta, payload, inline := strings.Cut(strings.TrimPrefix(f.URI, "data:"), ";base64,")
	inline = inline && strings.HasPrefix(f.URI, "data:")
	switch {
	case inline && strings.HasPrefix(meta, "image/"):
		return anthropic.NewImageBlockBase64(meta, payload), true
	case inline && meta == "application/pdf":
		return anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: payload}), true
	case strings.HasPrefix(f.MIMEType, "image/") && strings.HasPrefix(f.URI, "https://"):
		return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: f.URI}), true
	}
	return anthropic.ContentBlockParamUnion{}, false
}
