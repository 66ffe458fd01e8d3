package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/feeds"
	"github.com/ainexus/herald/internal/helpers"
	"github.com/ainexus/herald/internal/llm"
)

// Selector asks the model to pick the run's topics from the pooled feed
// items.
type Selector struct {
	provider llm.Provider
	cfg      config.PipelineConfig
	prompts  config.PromptsConfig
	model    string
	log      *log.Logger
}

func NewSelector(provider llm.Provider, cfg config.PipelineConfig, prompts config.PromptsConfig, model string) *Selector {
	return &Selector{
		provider: provider,
		cfg:      cfg,
		prompts:  prompts,
		model:    model,
		log:      log.New(log.Writer(), "[SELECTOR] ", log.LstdFlags),
	}
}

type selectorItemView struct {
	Index   int
	Title   string
	Summary string
}

type selectorView struct {
	Count  int
	Reason string
	Items  []selectorItemView
}

// Select returns exactly the configured number of distinct topics. A short
// or duplicated answer is retried with a stricter prompt until the retry
// budget runs out.
func (s *Selector) Select(ctx context.Context, items []feeds.Item) ([]Topic, Usage, error) {
	if len(items) == 0 {
		return nil, Usage{}, errors.New("no feed items to select from")
	}

	view := selectorView{
		Count: s.cfg.TopicCount,
		Items: make([]selectorItemView, len(items)),
	}
	for i, it := range items {
		view.Items[i] = selectorItemView{Index: i, Title: it.Title, Summary: it.Summary}
	}

	usage := Usage{Model: s.model}
	reason := ""
	for attempt := 0; attempt <= s.cfg.RetryLimit; attempt++ {
		if attempt > 0 {
			s.log.Printf("retrying topic selection: %s", reason)
			if err := sleepBackoff(ctx, s.cfg.RetryBackoff); err != nil {
				return nil, usage, err
			}
		}

		tmplName, tmpl := "selector", s.prompts.Selector
		if attempt > 0 {
			tmplName, tmpl = "selector_retry", s.prompts.SelectorRetry
			view.Reason = reason
		}
		prompt, err := renderPrompt(tmplName, tmpl, view)
		if err != nil {
			return nil, usage, err
		}

		raw, in, out, err := completeWithTimeout(ctx, s.provider, prompt, s.model, s.cfg.CallTimeout)
		usage.Attempts++
		usage.TokensIn += in
		usage.TokensOut += out
		usage.Cost += s.provider.CalculateCost(in, out, s.model)
		if err != nil {
			if ctx.Err() != nil {
				return nil, usage, ctx.Err()
			}
			reason = err.Error()
			continue
		}

		topics, perr := s.parseTopics(raw, items)
		if perr != nil {
			reason = perr.Error()
			continue
		}
		return topics, usage, nil
	}

	return nil, usage, fmt.Errorf("no valid topic list after %d attempts: %s", s.cfg.RetryLimit+1, reason)
}

func (s *Selector) parseTopics(raw string, items []feeds.Item) ([]Topic, error) {
	payload, err := helpers.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var out struct {
		Topics []struct {
			Name      string `json:"name"`
			Rationale string `json:"rationale"`
			Items     []int  `json:"items"`
		} `json:"topics"`
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, fmt.Errorf("malformed topics JSON: %w", err)
	}

	seen := make(map[string]bool)
	topics := make([]Topic, 0, len(out.Topics))
	for _, t := range out.Topics {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, errors.New("topic with empty name")
		}
		key := normalizeTopicName(name)
		if seen[key] {
			return nil, fmt.Errorf("duplicate topic %q", name)
		}
		seen[key] = true

		topic := Topic{Name: name, Rationale: strings.TrimSpace(t.Rationale)}
		for _, idx := range t.Items {
			if idx >= 0 && idx < len(items) {
				topic.SourceItems = append(topic.SourceItems, items[idx])
			}
		}
		topics = append(topics, topic)
	}

	if len(topics) < s.cfg.TopicCount {
		return nil, fmt.Errorf("returned %d topics, need exactly %d", len(topics), s.cfg.TopicCount)
	}
	if len(topics) > s.cfg.TopicCount {
		s.log.Printf("model returned %d topics, keeping the first %d", len(topics), s.cfg.TopicCount)
		topics = topics[:s.cfg.TopicCount]
	}
	return topics, nil
}

// normalizeTopicName lowercases and collapses whitespace so "LLM  Safety"
// and "llm safety" count as the same topic.
func normalizeTopicName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func completeWithTimeout(ctx context.Context, provider llm.Provider, prompt, model string, timeout time.Duration) (string, int64, int64, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return provider.GenerateWithTokens(ctx, prompt, model)
}
