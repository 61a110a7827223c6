package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v2"
	"google.golang.org/genai"

	"docqa-engine/internal/domain"
)

// providerError wraps an SDK error with the HTTP status it carried so the
// processor can tell retryable failures from permanent ones. Cancellation
// and deadline errors pass through untouched.
func providerError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pe := domain.NewProviderError(provider, statusOf(err), err)
	if quotaExhausted(err) {
		pe.QuotaExhausted = true
		pe.Retryable = false
	}
	return pe
}

// quotaExhausted tells a spent billing or daily quota apart from plain rate
// limiting. Both arrive as 429; only the former is worth giving up on.
func quotaExhausted(err error) bool {
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.Code == "insufficient_quota" || oe.Type == "insufficient_quota"
	}
	var ge genai.APIError
	if errors.As(err, &ge) {
		return geminiQuotaFailure(ge)
	}
	var gpe *genai.APIError
	if errors.As(err, &gpe) {
		return geminiQuotaFailure(*gpe)
	}
	return false
}

// geminiQuotaFailure reports RESOURCE_EXHAUSTED errors carrying a
// google.rpc.QuotaFailure detail for anything but a per-minute quota.
func geminiQuotaFailure(e genai.APIError) bool {
	if e.Status != "RESOURCE_EXHAUSTED" {
		return false
	}
	for _, d := range e.Details {
		if t, _ := d["@type"].(string); !strings.HasSuffix(t, "google.rpc.QuotaFailure") {
			continue
		}
		violations, _ := d["violations"].([]any)
		for _, v := range violations {
			m, _ := v.(map[string]any)
			id, _ := m["quotaId"].(string)
			if !strings.Contains(id, "PerMinute") {
				return true
			}
		}
	}
	return false
}

func statusOf(err error) int {
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	var ge genai.APIError
	if errors.As(err, &ge) {
		return ge.Code
	}
	var gpe *genai.APIError
	if errors.As(err, &gpe) {
		return gpe.Code
	}
	return 0
}
