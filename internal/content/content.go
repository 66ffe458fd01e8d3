package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/helpers"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultMaxChars = 8000
	userAgent       = "herald/1.0"
)

// Fetcher retrieves a page and extracts its readable article text.
type Fetcher interface {
	Fetch(ctx context.Context, link string) (string, error)
}

// New builds a fetcher for the configured mode. "http" does a plain GET,
// "chromedp" renders the page in headless Chrome first for script-heavy
// sites.
func New(cfg config.ContentConfig) (Fetcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}

	switch cfg.FetchMode {
	case "", "http":
		return &httpFetcher{
			client:   &http.Client{Timeout: timeout},
			maxChars: maxChars,
		}, nil
	case "chromedp":
		return &renderFetcher{timeout: timeout, maxChars: maxChars}, nil
	default:
		return nil, fmt.Errorf("unsupported fetch mode %q", cfg.FetchMode)
	}
}

type httpFetcher struct {
	client   *http.Client
	maxChars int
}

func (f *httpFetcher) Fetch(ctx context.Context, link string) (string, error) {
	if strings.TrimSpace(link) == "" {
		return "", errors.New("invalid url")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", link, nil)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", link, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, mustParseURL(link))
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", link, err)
	}
	return trimArticle(article.TextContent, f.maxChars), nil
}

func trimArticle(text string, maxChars int) string {
	return helpers.Truncate(strings.TrimSpace(text), maxChars)
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
