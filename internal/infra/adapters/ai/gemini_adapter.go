// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
)

var (
	_ adapter.ModelPort    = (*GeminiAdapter)(nil)
	_ adapter.FileUploader = (*GeminiFiles)(nil)
)

// NewGeminiClient creates a Gemini API client using the official SDK.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
}

type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
	maxOut       int
}

func NewGeminiAdapter(client *genai.Client, defaultModel string, maxOut int) *GeminiAdapter {
	return &GeminiAdapter{client: client, defaultModel: defaultModel, maxOut: maxOut}
}

func (g *GeminiAdapter) Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error) {
	contents := toGenAIHistory(req.History)
	parts := make([]*genai.Part, 0, len(req.Files)+1)
	for _, f := range req.Files {
		p, err := genaiFilePart(f)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	parts = append(parts, genai.NewPartFromText(req.UserPrompt))
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenAISchema(req.Schema),
	}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = int32(g.maxOut)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Thinking.Budget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(req.Thinking.Budget))}
	}
	// Rendered regions carry fine print.
	if model.HasROI(req.Files) {
		cfg.MediaResolution = genai.MediaResolutionHigh
	}

	resp, err := g.client.Models.GenerateContent(ctx, modelOrDefault(req.Model, g.defaultModel), contents, cfg)
	if err != nil {
		return nil, providerError("gemini", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, domain.ErrEmptyModelResponse
	}
	u := adapter.Usage{}
	if resp.UsageMetadata != nil {
		u.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		u.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		u.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return &adapter.CompletionResponse{Raw: []byte(text), Provider: "gemini", Usage: u}, nil
}

func genaiFilePart(f model.FileRef) (*genai.Part, error) {
	if mt, data, ok := parseDataURI(f.URI); ok {
		return genai.NewPartFromBytes(data, mt), nil
	}
	if f.URI == "" {
		return nil, fmt.Errorf("gemini: file %q has no uri", f.DisplayName)
	}
	return genai.NewPartFromURI(f.URI, f.MIMEType), nil
}

func toGenAIHistory(msgs []model.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.RoleAssistant {
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleModel))
			continue
		}
		out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
	}
	return out
}

// GeminiFiles uploads evidence through the Gemini Files API. Uploaded files
// expire on the provider side after 48 hours.
type GeminiFiles struct {
	client *genai.Client
	poll   time.Duration
}

func NewGeminiFiles(client *genai.Client) *GeminiFiles {
	return &GeminiFiles{client: client, poll: time.Second}
}

func (f *GeminiFiles) Upload(ctx context.Context, data []byte, mimeType, displayName string) (model.FileRef, error) {
	file, err := f.client.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return model.FileRef{}, providerError("gemini", err)
	}

	// Documents are processed asynchronously before they can be referenced.
	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return model.FileRef{}, ctx.Err()
		case <-time.After(f.poll):
		}
		file, err = f.client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return model.FileRef{}, providerError("gemini", err)
		}
	}
	if file.State == genai.FileStateFailed {
		return model.FileRef{}, fmt.Errorf("gemini: processing of %s failed", displayName)
	}

	mt := file.MIMEType
	if mt == "" {
		mt = mimeType
	}
	return model.FileRef{URI: file.URI, MIMEType: mt, DisplayName: displayName}, nil
}

// InlineUploader keeps evidence in the request itself as a base64 data URI.
// It serves providers without a file store.
type InlineUploader struct{}

func (InlineUploader) Upload(ctx context.Context, data []byte, mimeType, displayName string) (model.FileRef, error) {
	return model.FileRef{
		URI:         "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		MIMEType:    mimeType,
		DisplayName: displayName,
	}, nil
}

func parseDataURI(uri string) (mimeType string, data []byte, ok bool) {
	rest, found := strings.CutPrefix(uri, "data:")
	if !found {
		return "", nil, false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", nil, false
	}
	mt, isB64 := strings.CutSuffix(meta, ";base64")
	if !isB64 {
		return mt, []byte(payload), true
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, false
	}
	return mt, b, true
}

func modelOrDefault(name, def string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return def
}
