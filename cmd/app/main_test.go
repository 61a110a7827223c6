package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"docqa-engine/internal/config"
	aiAdapters "docqa-engine/internal/infra/adapters/ai"
)

func TestParseRole(t *testing.T) {
	cases := map[string][2]bool{"": {true, true}, "all": {true, true}, "API": {true, false}, "worker": {false, true}}
	for in, want := range cases {
		a, w, err := parseRole(in)
		if err != nil || a != want[0] || w != want[1] {
			t.Errorf("parseRole(%q) = %v %v %v", in, a, w, err)
		}
	}
	if _, _, err := parseRole("scheduler"); err == nil {
		t.Error("unknown role should fail")
	}
}

func TestBuildModels_Noop(t *testing.T) {
	l := zerolog.Nop()
	ms, err := buildModels(context.Background(), config.AIConfig{DefaultProvider: "noop"}, &l)
	if err != nil {
		t.Fatal(err)
	}
	if ms.catalog != nil {
		t.Fatal("noop accepts any model")
	}
	if _, ok := ms.uploader.(aiAdapters.InlineUploader); !ok {
		t.Fatalf("noop should upload inline, got %T", ms.uploader)
	}
}

func TestBuildModels_DefaultProviderNeedsKey(t *testing.T) {
	l := zerolog.Nop()
	_, err := buildModels(context.Background(), config.AIConfig{DefaultProvider: "anthropic", OpenAIKey: "sk"}, &l)
	if err == nil {
		t.Fatal("expected an error when the default provider is not configured")
	}
}
