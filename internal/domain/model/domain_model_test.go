//go:build !integration

package model

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"docqa-engine/internal/domain"
)

// --- Job Model Tests ---

func TestNewJob(t *testing.T) {
	t.Run("should create a queued job with default retry budget", func(t *testing.T) {
		now := time.Now()
		job := NewJob(JobSpec{ConversationID: "conv-1", ClientID: "client-1", UserText: "hi", Model: "m"}, now)

		if job.ID == "" {
			t.Fatal("expected job ID to be non-empty")
		}
		if job.Status != JobStatusQueued {
			t.Errorf("expected status to be 'queued', but got %s", job.Status)
		}
		if job.MaxRetries != DefaultMaxRetries {
			t.Errorf("expected max retries %d, but got %d", DefaultMaxRetries, job.MaxRetries)
		}
		if job.Result != nil || job.ErrorMessage != "" {
			t.Error("expected a new job to carry neither result nor error")
		}
		if job.ConversationID != "conv-1" {
			t.Errorf("expected conversation id to be promoted from spec, got %q", job.ConversationID)
		}
	})

	t.Run("should honour an explicit retry budget of zero", func(t *testing.T) {
		zero := 0
		job := NewJob(JobSpec{RetryBudget: &zero}, time.Now())
		if job.MaxRetries != 0 {
			t.Errorf("expected max retries 0, but got %d", job.MaxRetries)
		}
		if job.RetriesLeft() {
			t.Error("expected no retries left")
		}
	})

	t.Run("job ids should sort by creation time", func(t *testing.T) {
		base := time.Now()
		a := NewJobID(base)
		b := NewJobID(base.Add(time.Millisecond))
		c := NewJobID(base.Add(time.Millisecond))
		if !(a < b && b < c) {
			t.Errorf("expected monotonic ids, got %s %s %s", a, b, c)
		}
	})
}

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusQueued, JobStatusProcessing, true},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusQueued, true},
		{JobStatusQueued, JobStatusCompleted, false},
		{JobStatusCompleted, JobStatusQueued, false},
		{JobStatusFailed, JobStatusProcessing, false},
		{JobStatusCompleted, JobStatusFailed, false},
	}
	for _, tc := range testCases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

// --- Thinking Tests ---

func TestModelCatalogResolve(t *testing.T) {
	cat := DefaultModelCatalog()

	level, err := cat.Resolve("gemini-3-pro-preview", "")
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if level != ThinkingHigh {
		t.Errorf("expected pro default level high, got %s", level)
	}

	if _, err := cat.Resolve("gemini-3-pro-preview", ThinkingMedium); !errors.Is(err, domain.ErrUnsupportedEffort) {
		t.Errorf("expected ErrUnsupportedEffort, got %v", err)
	}
	if _, err := cat.Resolve("unknown", ""); !errors.Is(err, domain.ErrUnsupportedModel) {
		t.Errorf("expected ErrUnsupportedModel, got %v", err)
	}

	var open ModelCatalog
	if level, err := open.Resolve("anything", ""); err != nil || level != ThinkingMedium {
		t.Errorf("empty catalog should accept any model with medium default, got %s %v", level, err)
	}
}

func TestResolveThinking(t *testing.T) {
	if got := ResolveThinking(ThinkingLow, 0); got.Budget != 512 {
		t.Errorf("expected low preset 512, got %d", got.Budget)
	}
	if got := ResolveThinking(ThinkingHigh, 100000); got.Budget != MaxThinkingBudget {
		t.Errorf("expected budget capped at %d, got %d", MaxThinkingBudget, got.Budget)
	}
	if got := ResolveThinking("", 1000); got.Level != ThinkingMedium || got.Budget != 1000 {
		t.Errorf("expected explicit budget with medium level, got %+v", got)
	}
}

// --- Action Tests ---

func TestModelActionJSON(t *testing.T) {
	t.Run("answer without payload omits payload key", func(t *testing.T) {
		b, err := json.Marshal(ModelAction{Type: ActionAnswer})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(b) != `{"type":"answer"}` {
			t.Errorf("unexpected encoding %s", b)
		}
	})

	t.Run("stored actions decode back into typed payloads", func(t *testing.T) {
		in := []ModelAction{
			{Type: ActionRequestROI, Payload: &RequestROIPayload{ImageRef: ImageRef{ContextItemID: "sheet-1"}, DPI: 400, BBox: &BBox{X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.5}}},
			{Type: ActionFinal, Payload: &FinalPayload{Confidence: "high"}, Note: "done"},
		}
		b, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out []ModelAction
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !reflect.DeepEqual(in, out) {
			t.Errorf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
		}
	})

	t.Run("mismatched payload is rejected on encode", func(t *testing.T) {
		_, err := json.Marshal(ModelAction{Type: ActionAnswer, Payload: &FinalPayload{}})
		if err == nil {
			t.Fatal("expected an error for mismatched payload")
		}
	})

	t.Run("unknown stored type is rejected", func(t *testing.T) {
		var a ModelAction
		if err := json.Unmarshal([]byte(`{"type":"open_image"}`), &a); err == nil {
			t.Fatal("expected an error for unknown action type")
		}
	})
}

func TestBBoxValid(t *testing.T) {
	if !FullPage.Valid() {
		t.Error("full page must be valid")
	}
	if (BBox{X1: 0.5, Y1: 0, X2: 0.5, Y2: 1}).Valid() {
		t.Error("zero-width box must be invalid")
	}
	if (BBox{X1: -0.1, Y1: 0, X2: 0.5, Y2: 1}).Valid() {
		t.Error("negative coordinate must be invalid")
	}
}

// --- Catalog Tests ---

func TestParseContextCatalog(t *testing.T) {
	t.Run("array form", func(t *testing.T) {
		c, err := ParseContextCatalog(`[{"context_item_id":"a","r2_key":"k/a.pdf"},{"context_item_id":"b","r2_url":"https://x/b.png"}]`)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if c.Len() != 2 {
			t.Fatalf("expected 2 items, got %d", c.Len())
		}
		it, ok := c.Lookup("b")
		if !ok || it.Source() != "https://x/b.png" {
			t.Errorf("lookup b returned %+v %v", it, ok)
		}
		if !strings.Contains(c.PromptJSON(), `"context_item_id": "a"`) {
			t.Errorf("prompt json missing item a: %s", c.PromptJSON())
		}
	})

	t.Run("object form and empty", func(t *testing.T) {
		c, err := ParseContextCatalog(`{"items":[{"context_item_id":"a"}]}`)
		if err != nil || c.Len() != 1 {
			t.Fatalf("object form: %v len=%d", err, c.Len())
		}
		empty, err := ParseContextCatalog("  ")
		if err != nil || empty.Len() != 0 || empty.PromptJSON() != "[]" {
			t.Fatalf("empty catalog: %v", err)
		}
	})

	t.Run("rejects duplicates and missing ids", func(t *testing.T) {
		if _, err := ParseContextCatalog(`[{"context_item_id":"a"},{"context_item_id":"a"}]`); err == nil {
			t.Error("expected duplicate id error")
		}
		if _, err := ParseContextCatalog(`[{"title":"x"}]`); err == nil {
			t.Error("expected missing id error")
		}
		if _, err := ParseContextCatalog(`not json`); err == nil {
			t.Error("expected parse error")
		}
	})
}

// --- Message Tests ---

func TestRecentPairs(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "1"},
		{Role: RoleAssistant, Content: "2"},
		{Role: RoleUser, Content: "3"},
		{Role: RoleAssistant, Content: "4"},
		{Role: RoleUser, Content: "5"},
		{Role: RoleAssistant, Content: "6"},
	}

	recent := RecentPairs(msgs, 2)
	if len(recent) != 4 || recent[0].Content != "3" {
		t.Fatalf("RecentPairs(2) returned %d messages starting at %q", len(recent), recent[0].Content)
	}
	if all := RecentPairs(msgs, 10); len(all) != 6 {
		t.Errorf("expected all 6 messages, got %d", len(all))
	}
	if none := RecentPairs(msgs, 0); len(none) != 0 {
		t.Errorf("expected no messages for n=0, got %d", len(none))
	}
}
