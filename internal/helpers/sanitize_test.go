package helpers

import "testing"

func TestPlainText_StripsMarkup(t *testing.T) {
	in := `<p>OpenAI <b>released</b> a new model.</p><script>alert(1)</script>`
	got := PlainText(in)
	want := "OpenAI released a new model."
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestPlainText_UnescapesEntities(t *testing.T) {
	got := PlainText("<p>AT&amp;T &mdash; earnings</p>")
	if got != "AT&T — earnings" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestPlainText_CollapsesWhitespace(t *testing.T) {
	got := PlainText("a\n\n  b\tc")
	if got != "a b c" {
		t.Fatalf("expected %q, got %q", "a b c", got)
	}
}

func TestPlainText_Empty(t *testing.T) {
	if got := PlainText("   "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Fatalf("expected %q, got %q", "hello...", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("expected unchanged, got %q", got)
	}
	if got := Truncate("anything", 0); got != "anything" {
		t.Fatalf("expected unchanged for no limit, got %q", got)
	}
}
