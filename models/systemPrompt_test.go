package models

import (
	"context"
	"testing"
)

func TestEmbeddedDefaults(t *testing.T) {
	d, err := LoadDefaults()
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	for _, key := range []string{
		"extractActDetails", "checkMinuteData", "summarizeClientHistory",
		"generateQualification", "conversationalAgent", "generateConvoTitle",
		"semanticSearch", "automatedValidation", "processLivroPdf",
	} {
		p, ok := d.Prompts[key]
		if !ok || p.Content == "" {
			t.Fatalf("missing default prompt %q", key)
		}
	}
	for _, kind := range AllPresetKinds {
		if len(d.Presets[kind]) == 0 {
			t.Fatalf("missing default presets for %s", kind)
		}
	}
}

func TestDefaultPromptStore(t *testing.T) {
	var store DefaultPromptStore
	got, err := store.Prompt(context.Background(), "generateConvoTitle")
	if err != nil || got == "" {
		t.Fatalf("expected prompt, got %q (%v)", got, err)
	}
	if _, err := store.Prompt(context.Background(), "nope"); err == nil {
		t.Fatalf("unknown key must fail")
	}
}
