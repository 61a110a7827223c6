// File: internal/usecase/prompt.go
package usecase

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"docqa-engine/internal/domain/model"
)

const defaultUserTemplate = `User question:
{question}

context_catalog (use only these ids; request crops or pages through request_files or request_roi):
{context_catalog_json}

Requirements:
- If the text is enough to answer, answer right away.
- If drawings or dimensions are needed, request the specific context_item_id items.
`

// DefaultSystemPrompt is used when neither the job nor the config set one.
const DefaultSystemPrompt = `You answer questions about technical documents.
Reply with a single JSON object {"assistant_text": string, "actions": [...], "is_final": bool}.
Allowed action types: answer, request_files, request_roi, final.
Request evidence only by context_item_id values listed in the context catalog.
Set is_final to true once the answer is complete.`

const repairPrompt = `Your previous reply was rejected: %s.
Reply again with one JSON object that matches the required schema exactly. Do not add any other text.`

// TokenCounter estimates prompt tokens.
type TokenCounter interface {
	Count(s string) int
}

type tiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter counts with the cl100k_base encoding. If the encoding cannot
// be loaded it falls back to len/4.
func NewTokenCounter() TokenCounter { return &tiktokenCounter{} }

func (c *tiktokenCounter) Count(s string) int {
	c.once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return (len(s) + 3) / 4
	}
	return len(c.enc.Encode(s, nil, nil))
}

// PromptBuilder assembles the per-turn prompt and trims history.
type PromptBuilder struct {
	SystemPrompt       string
	MaxHistoryPairs    int
	HistoryTokenBudget int
	Counter            TokenCounter
}

func NewPromptBuilder(systemPrompt string, maxPairs, tokenBudget int, counter TokenCounter) *PromptBuilder {
	if counter == nil {
		counter = NewTokenCounter()
	}
	return &PromptBuilder{
		SystemPrompt:       systemPrompt,
		MaxHistoryPairs:    maxPairs,
		HistoryTokenBudget: tokenBudget,
		Counter:            counter,
	}
}

// System returns the job's system prompt, then the configured one, then the default.
func (b *PromptBuilder) System(job *model.Job) string {
	if s := strings.TrimSpace(job.SystemPrompt); s != "" {
		return job.SystemPrompt
	}
	if strings.TrimSpace(b.SystemPrompt) != "" {
		return b.SystemPrompt
	}
	return DefaultSystemPrompt
}

// History keeps the last MaxHistoryPairs pairs, then drops the oldest
// messages until the total fits HistoryTokenBudget.
func (b *PromptBuilder) History(msgs []model.Message) []model.Message {
	kept := model.RecentPairs(msgs, b.MaxHistoryPairs)
	if b.HistoryTokenBudget <= 0 {
		return kept
	}
	total := 0
	costs := make([]int, len(kept))
	for i, m := range kept {
		costs[i] = b.Counter.Count(m.Content)
		total += costs[i]
	}
	start := 0
	for start < len(kept) && total > b.HistoryTokenBudget {
		total -= costs[start]
		start++
	}
	// never open the window on an assistant reply
	for start < len(kept) && kept[start].Role != model.RoleUser {
		start++
	}
	return kept[start:]
}

// UserPrompt renders the user prompt for a turn (1-based). The catalog goes
// out on the first turn only; later turns list the evidence attached so far.
func (b *PromptBuilder) UserPrompt(job *model.Job, catalog *model.ContextCatalog, turn int, files []model.FileRef) string {
	if turn <= 1 {
		if catalog.Len() == 0 {
			return job.UserText
		}
		tmpl := job.UserTextTemplate
		if !strings.Contains(tmpl, "{question}") {
			tmpl = defaultUserTemplate
		}
		return strings.NewReplacer(
			"{question}", job.UserText,
			"{context_catalog_json}", catalog.PromptJSON(),
		).Replace(tmpl)
	}

	var sb strings.Builder
	sb.WriteString(job.UserText)
	if len(files) > 0 {
		sb.WriteString("\n\nEvidence attached so far:\n")
		for _, f := range files {
			name := f.DisplayName
			if name == "" {
				name = f.URI
			}
			if f.ContextItemID != "" {
				fmt.Fprintf(&sb, "- %s (context_item_id %s)\n", name, f.ContextItemID)
			} else {
				fmt.Fprintf(&sb, "- %s\n", name)
			}
		}
	}
	return sb.String()
}

// Repair is appended to the turn prompt after a schema violation.
func (b *PromptBuilder) Repair(userPrompt string, violation error) string {
	return userPrompt + "\n\n" + fmt.Sprintf(repairPrompt, violation)
}
