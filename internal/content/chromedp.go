package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
)

// renderFetcher drives headless Chrome so pages that assemble their content
// with JavaScript still yield article text.
type renderFetcher struct {
	timeout  time.Duration
	maxChars int
}

func (f *renderFetcher) Fetch(ctx context.Context, link string) (string, error) {
	if strings.TrimSpace(link) == "" {
		return "", errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	html, err := renderHTML(ctx, link)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", link, err)
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(link))
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", link, err)
	}
	return trimArticle(article.TextContent, f.maxChars), nil
}

func renderHTML(ctx context.Context, link string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(link),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
