package helpers

import "testing"

func TestCanonicalURL_StripsTrackingAndFragment(t *testing.T) {
	got, err := CanonicalURL("HTTPS://Example.com/story?utm_source=rss&id=7#part-2")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	want := "https://example.com/story?id=7"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCanonicalURL_SchemelessDefaultsToHTTPS(t *testing.T) {
	got, err := CanonicalURL("example.com/a")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != "https://example.com/a" {
		t.Fatalf("unexpected canonical form: %q", got)
	}
}

func TestCanonicalURL_SortsQueryParams(t *testing.T) {
	got, err := CanonicalURL("https://example.com/?b=2&a=1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != "https://example.com/?a=1&b=2" {
		t.Fatalf("unexpected canonical form: %q", got)
	}
}

func TestCanonicalURL_Empty(t *testing.T) {
	if _, err := CanonicalURL("   "); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestValidHTTPURL(t *testing.T) {
	if !ValidHTTPURL("https://example.com/x") {
		t.Fatal("expected https URL to validate")
	}
	if ValidHTTPURL("ftp://example.com/x") {
		t.Fatal("expected non-http scheme to fail")
	}
	if ValidHTTPURL("not a url") {
		t.Fatal("expected garbage to fail")
	}
	if ValidHTTPURL("/relative/path") {
		t.Fatal("expected relative path to fail")
	}
}
