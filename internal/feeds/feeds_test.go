package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ainexus/herald/config"
)

func rssBody(entries ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Stub</title><link>http://example.com</link><description>stub</description>`)
	for _, e := range entries {
		b.WriteString(e)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func rssEntry(title, link, desc string) string {
	return fmt.Sprintf(`<item><title>%s</title><link>%s</link><description><![CDATA[%s]]></description><pubDate>Mon, 18 Aug 2025 10:00:00 GMT</pubDate></item>`, title, link, desc)
}

func serveRSS(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAllNormalizesEntries(t *testing.T) {
	srv := serveRSS(t, rssBody(
		rssEntry("New model released", "http://example.com/a?utm_source=rss&id=1", "<p>Summary &amp; details</p>"),
		rssEntry("Chips update", "http://example.com/b", "plain text"),
	))

	cfg := config.FeedsConfig{
		Sources: []config.FeedSource{{Name: "stub", URL: srv.URL}},
		Timeout: 5 * time.Second,
	}
	items, results, err := NewFetcher(cfg, nil).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Title != "New model released" {
		t.Fatalf("unexpected title %q", items[0].Title)
	}
	if items[0].Link != "http://example.com/a?id=1" {
		t.Fatalf("expected tracking params stripped, got %q", items[0].Link)
	}
	if items[0].Summary != "Summary & details" {
		t.Fatalf("expected sanitized summary, got %q", items[0].Summary)
	}
	if items[0].Source != "stub" {
		t.Fatalf("expected source name, got %q", items[0].Source)
	}
	if items[0].Published.IsZero() {
		t.Fatal("expected published timestamp")
	}
	if len(results) != 1 || results[0].Items != 2 || results[0].Error != "" {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestFetchAllToleratesDeadSource(t *testing.T) {
	good := serveRSS(t, rssBody(rssEntry("Alive", "http://example.com/x", "s")))
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(dead.Close)

	cfg := config.FeedsConfig{
		Sources: []config.FeedSource{
			{Name: "dead", URL: dead.URL},
			{Name: "good", URL: good.URL},
		},
		Timeout: 5 * time.Second,
	}
	items, results, err := NewFetcher(cfg, nil).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("one working source should not fail the fetch: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Alive" {
		t.Fatalf("expected item from working source, got %+v", items)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 source results, got %d", len(results))
	}
	if results[0].Error == "" {
		t.Fatal("expected dead source error recorded")
	}
	if results[1].Error != "" || results[1].Items != 1 {
		t.Fatalf("unexpected good source result %+v", results[1])
	}
}

func TestFetchAllAllSourcesDead(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(dead.Close)

	cfg := config.FeedsConfig{
		Sources: []config.FeedSource{{Name: "dead", URL: dead.URL}},
		Timeout: 5 * time.Second,
	}
	_, results, err := NewFetcher(cfg, nil).FetchAll(context.Background())
	if err != ErrNoFeedData {
		t.Fatalf("expected ErrNoFeedData, got %v", err)
	}
	if len(results) != 1 || results[0].Error == "" {
		t.Fatalf("expected failure recorded, got %+v", results)
	}
}

func TestFetchAllMaxPerSource(t *testing.T) {
	srv := serveRSS(t, rssBody(
		rssEntry("one", "http://example.com/1", "s"),
		rssEntry("two", "http://example.com/2", "s"),
		rssEntry("three", "http://example.com/3", "s"),
	))
	cfg := config.FeedsConfig{
		Sources:      []config.FeedSource{{Name: "stub", URL: srv.URL}},
		Timeout:      5 * time.Second,
		MaxPerSource: 2,
	}
	items, _, err := NewFetcher(cfg, nil).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected cap at 2 items, got %d", len(items))
	}
}

func TestFetchAllDeduplicatesAcrossSources(t *testing.T) {
	body := rssBody(rssEntry("Same story", "http://example.com/story?utm_campaign=x", "s"))
	a := serveRSS(t, body)
	b := serveRSS(t, rssBody(rssEntry("Same story again", "http://example.com/story", "s")))

	cfg := config.FeedsConfig{
		Sources: []config.FeedSource{
			{Name: "a", URL: a.URL},
			{Name: "b", URL: b.URL},
		},
		Timeout: 5 * time.Second,
	}
	items, _, err := NewFetcher(cfg, nil).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected canonical-link dedup to 1 item, got %d", len(items))
	}
	if items[0].Source != "a" {
		t.Fatalf("expected first source to win, got %q", items[0].Source)
	}
}

type recordingCache struct {
	stored map[string][]Item
	sets   int
	hits   int
}

func (c *recordingCache) Get(_ context.Context, url string) ([]Item, bool) {
	items, ok := c.stored[url]
	if ok {
		c.hits++
	}
	return items, ok
}

func (c *recordingCache) Set(_ context.Context, url string, items []Item, _ time.Duration) {
	if c.stored == nil {
		c.stored = make(map[string][]Item)
	}
	c.stored[url] = items
	c.sets++
}

func TestFetchAllUsesCache(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, rssBody(rssEntry("cached", "http://example.com/c", "s")))
	}))
	t.Cleanup(srv.Close)

	cfg := config.FeedsConfig{
		Sources:  []config.FeedSource{{Name: "stub", URL: srv.URL}},
		Timeout:  5 * time.Second,
		CacheTTL: time.Minute,
	}
	cache := &recordingCache{}
	f := NewFetcher(cfg, cache)

	if _, _, err := f.FetchAll(context.Background()); err != nil {
		t.Fatalf("first FetchAll: %v", err)
	}
	items, results, err := f.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("second FetchAll: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one upstream call, got %d", calls)
	}
	if cache.sets != 1 || cache.hits != 1 {
		t.Fatalf("expected 1 set and 1 hit, got %d/%d", cache.sets, cache.hits)
	}
	if len(items) != 1 || !results[0].Cached {
		t.Fatalf("expected cached result, got %+v", results)
	}
}

func TestFetchAllCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := config.FeedsConfig{
		Sources: []config.FeedSource{{Name: "stub", URL: "http://localhost:0"}},
	}
	if _, _, err := NewFetcher(cfg, nil).FetchAll(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
