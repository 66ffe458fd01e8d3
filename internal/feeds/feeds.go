package feeds

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/helpers"
)

// Item is one normalized feed entry. Content stays empty unless article
// enrichment fills it in later.
type Item struct {
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Summary   string    `json:"summary"`
	Published time.Time `json:"published,omitempty"`
	Content   string    `json:"content,omitempty"`
}

// SourceResult records the outcome of polling one configured source.
type SourceResult struct {
	Source  string        `json:"source"`
	URL     string        `json:"url"`
	Items   int           `json:"items"`
	Cached  bool          `json:"cached,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Error   string        `json:"error,omitempty"`
}

// ErrNoFeedData reports that every configured source failed or came back
// empty, leaving nothing to build a newsletter from.
var ErrNoFeedData = errors.New("no feed data: every configured source failed or returned nothing")

// Fetcher polls the configured RSS/Atom sources and normalizes their entries.
type Fetcher struct {
	cfg    config.FeedsConfig
	cache  Cache
	parser *gofeed.Parser
	log    *log.Logger
}

// NewFetcher creates a fetcher over the configured sources. A nil cache
// disables caching.
func NewFetcher(cfg config.FeedsConfig, cache Cache) *Fetcher {
	parser := gofeed.NewParser()
	parser.UserAgent = "herald/1.0"
	if cache == nil {
		cache = NopCache{}
	}
	return &Fetcher{
		cfg:    cfg,
		cache:  cache,
		parser: parser,
		log:    log.New(log.Writer(), "[FEEDS] ", log.LstdFlags),
	}
}

// FetchAll polls every source in configuration order and returns the combined
// item list plus a per-source result record. A source that is unreachable or
// empty is logged and recorded, not fatal; only zero items overall returns
// ErrNoFeedData. Items are deduplicated by canonical link across sources.
func (f *Fetcher) FetchAll(ctx context.Context) ([]Item, []SourceResult, error) {
	items := make([]Item, 0, len(f.cfg.Sources)*8)
	results := make([]SourceResult, 0, len(f.cfg.Sources))
	seen := make(map[string]bool)

	for _, src := range f.cfg.Sources {
		if err := ctx.Err(); err != nil {
			return nil, results, err
		}
		res := SourceResult{Source: src.Name, URL: src.URL}
		start := time.Now()
		batch, cached, err := f.fetchSource(ctx, src)
		res.Elapsed = time.Since(start)
		res.Cached = cached
		if err != nil {
			res.Error = err.Error()
			f.log.Printf("source %s unavailable: %v", src.Name, err)
			results = append(results, res)
			continue
		}
		for _, it := range batch {
			key := it.Link
			if key == "" {
				key = it.Source + "|" + strings.ToLower(it.Title)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			items = append(items, it)
			res.Items++
		}
		results = append(results, res)
	}

	if len(items) == 0 {
		return nil, results, ErrNoFeedData
	}
	return items, results, nil
}

func (f *Fetcher) fetchSource(ctx context.Context, src config.FeedSource) ([]Item, bool, error) {
	if batch, ok := f.cache.Get(ctx, src.URL); ok {
		return batch, true, nil
	}

	fetchCtx := ctx
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	feed, err := f.parser.ParseURLWithContext(src.URL, fetchCtx)
	if err != nil {
		return nil, false, fmt.Errorf("fetch %s: %w", src.URL, err)
	}

	batch := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil || strings.TrimSpace(entry.Title) == "" {
			continue
		}
		it := Item{
			Source:  src.Name,
			Title:   strings.TrimSpace(entry.Title),
			Summary: helpers.PlainText(firstNonEmpty(entry.Description, entry.Content)),
		}
		if entry.Link != "" {
			if canon, err := helpers.CanonicalURL(entry.Link); err == nil {
				it.Link = canon
			} else {
				it.Link = entry.Link
			}
		}
		if entry.PublishedParsed != nil {
			it.Published = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			it.Published = *entry.UpdatedParsed
		}
		batch = append(batch, it)
		if f.cfg.MaxPerSource > 0 && len(batch) >= f.cfg.MaxPerSource {
			break
		}
	}
	if len(batch) == 0 {
		return nil, false, fmt.Errorf("feed %s: no entries", src.URL)
	}

	f.cache.Set(ctx, src.URL, batch, f.cfg.CacheTTL)
	return batch, false, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
