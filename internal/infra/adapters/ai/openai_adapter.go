package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ModelPort = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements adapter.ModelPort using Chat Completions with a
// json_schema response format.
type OpenAIAdapter struct {
	client       openai.Client
	defaultModel string
	maxOut       int
}

func NewOpenAIAdapter(apiKey, baseURL, defaultModel string, maxOut int) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
		maxOut:       maxOut,
	}, nil
}

func (o *OpenAIAdapter) Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error) {
	name := modelOrDefault(req.Model, o.defaultModel)

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.History {
		if m.Role == model.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(req.Files)+1)
	for _, f := range req.Files {
		parts = append(parts, openaiFilePart(f))
	}
	parts = append(parts, openai.TextContentPart(req.UserPrompt))
	msgs = append(msgs, openai.UserMessage(parts))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(name),
		Messages: msgs,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "model_reply",
					Schema: req.Schema,
					// Strict mode requires every property to be listed as required.
					Strict: openai.Bool(false),
				},
			},
		},
	}
	if o.maxOut > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.maxOut))
	}
	if isReasoningModel(name) && req.Thinking.Level != "" {
		params.ReasoningEffort = shared.ReasoningEffort(req.Thinking.Level)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, providerError("openai", err)
	}
	for _, c := range resp.Choices {
		if text := strings.TrimSpace(c.Message.Content); text != "" {
			return &adapter.CompletionResponse{
				Raw:      []byte(text),
				Provider: "openai",
				Usage: adapter.Usage{
					PromptTokens:     int(resp.Usage.PromptTokens),
					CompletionTokens: int(resp.Usage.CompletionTokens),
					TotalTokens:      int(resp.Usage.TotalTokens),
				},
			}, nil
		}
	}
	return nil, domain.ErrEmptyModelResponse
}

// openaiFilePart sends images as image parts and everything else as a file
// part. Gemini file URIs cannot be read by OpenAI; those refs must come from
// the inline uploader or a public URL.
func openaiFilePart(f model.FileRef) openai.ChatCompletionContentPartUnionParam {
	if strings.HasPrefix(f.MIMEType, "image/") {
		img := openai.ChatCompletionContentPartImageImageURLParam{URL: f.URI, Detail: "auto"}
		if f.IsROI {
			img.Detail = "high"
		}
		return openai.ImageContentPart(img)
	}
	return openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
		FileData: openai.String(f.URI),
		Filename: openai.String(f.DisplayName),
	})
}

func isReasoningModel(name string) bool {
	l := strings.ToLower(name)
	return strings.HasPrefix(l, "o1") || strings.HasPrefix(l, "o3") || strings.HasPrefix(l, "o4") || strings.HasPrefix(l, "gpt-5")
}
