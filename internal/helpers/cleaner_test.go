package helpers

import (
	"strings"
	"testing"
)

func TestExtractJSON_PlainObject(t *testing.T) {
	got, err := ExtractJSON(`{"topics":[{"name":"AI chips"}]}`)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != `{"topics":[{"name":"AI chips"}]}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSON_FencedWithLanguageTag(t *testing.T) {
	in := "```json\n{\"facts\": [\"a\", \"b\"]}\n```"
	got, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != `{"facts": ["a", "b"]}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSON_EmbeddedInProse(t *testing.T) {
	in := `Sure! Here are the topics you asked for: {"topics": ["one"]} Hope that helps.`
	got, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != `{"topics": ["one"]}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSON_BracesInsideStrings(t *testing.T) {
	in := `{"name": "closing } inside", "quote": "he said \"hi\""}`
	got, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != in {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSON_NoJSON(t *testing.T) {
	if _, err := ExtractJSON("no structured content here"); err == nil {
		t.Fatal("expected error for input without JSON")
	}
}

func TestExtractJSON_UnbalancedObject(t *testing.T) {
	if _, err := ExtractJSON(`{"open": [1, 2`); err == nil {
		t.Fatal("expected error for unbalanced JSON")
	}
}

func TestUnwrapMarkdown_Fenced(t *testing.T) {
	in := "```markdown\n# Title\n\n## Section\nbody\n```"
	got, err := UnwrapMarkdown(in)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !strings.HasPrefix(got, "# Title") {
		t.Fatalf("expected unwrapped body, got %q", got)
	}
	if strings.Contains(got, "```") {
		t.Fatalf("fence survived unwrap: %q", got)
	}
}

func TestUnwrapMarkdown_Bare(t *testing.T) {
	got, err := UnwrapMarkdown("  # Title\n\nbody\n")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != "# Title\n\nbody" {
		t.Fatalf("unexpected body: %q", got)
	}
}

func TestUnwrapMarkdown_Empty(t *testing.T) {
	if _, err := UnwrapMarkdown("   \n"); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestExtractJSON_BOM(t *testing.T) {
	got, err := ExtractJSON("﻿{\"ok\": true}")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != `{"ok": true}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}
