package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/content"
	"github.com/ainexus/herald/internal/feeds"
	"github.com/ainexus/herald/internal/helpers"
	"github.com/ainexus/herald/internal/llm"
)

// Researcher turns one selected topic into a cited factual brief.
type Researcher struct {
	provider   llm.Provider
	content    content.Fetcher // nil disables article enrichment
	cfg        config.PipelineConfig
	prompts    config.PromptsConfig
	model      string
	embedModel string // empty disables semantic matching
	log        *log.Logger
}

func NewResearcher(provider llm.Provider, contentFetcher content.Fetcher, cfg config.PipelineConfig, prompts config.PromptsConfig, model, embedModel string) *Researcher {
	return &Researcher{
		provider:   provider,
		content:    contentFetcher,
		cfg:        cfg,
		prompts:    prompts,
		model:      model,
		embedModel: embedModel,
		log:        log.New(log.Writer(), "[RESEARCHER] ", log.LstdFlags),
	}
}

type researcherTopicView struct {
	Name      string
	Rationale string
}

type researcherArticleView struct {
	Title   string
	Link    string
	Summary string
	Content string
}

type researcherView struct {
	Topic    researcherTopicView
	Articles []researcherArticleView
}

// Research builds a brief for one topic from the feed pool. The topic's own
// supporting items take priority; when the selector supplied none, items are
// ranked against the topic by embedding similarity (keyword overlap when no
// embedding model is routed).
func (r *Researcher) Research(ctx context.Context, topic Topic, items []feeds.Item) (Brief, Usage, error) {
	usage := Usage{Model: r.model}

	articles := topic.SourceItems
	if len(articles) == 0 {
		articles = r.rankArticles(ctx, topic, items)
	}
	if len(articles) == 0 {
		return Brief{}, usage, fmt.Errorf("no articles relevant to topic %q", topic.Name)
	}
	articles = r.enrich(ctx, articles)

	view := researcherView{
		Topic:    researcherTopicView{Name: topic.Name, Rationale: topic.Rationale},
		Articles: make([]researcherArticleView, len(articles)),
	}
	for i, a := range articles {
		view.Articles[i] = researcherArticleView{Title: a.Title, Link: a.Link, Summary: a.Summary, Content: a.Content}
	}
	prompt, err := renderPrompt("researcher", r.prompts.Researcher, view)
	if err != nil {
		return Brief{}, usage, err
	}

	reason := ""
	for attempt := 0; attempt <= r.cfg.RetryLimit; attempt++ {
		if attempt > 0 {
			r.log.Printf("retrying research for %q: %s", topic.Name, reason)
			if err := sleepBackoff(ctx, r.cfg.RetryBackoff); err != nil {
				return Brief{}, usage, err
			}
		}

		raw, in, out, err := completeWithTimeout(ctx, r.provider, prompt, r.model, r.cfg.CallTimeout)
		usage.Attempts++
		usage.TokensIn += in
		usage.TokensOut += out
		usage.Cost += r.provider.CalculateCost(in, out, r.model)
		if err != nil {
			if ctx.Err() != nil {
				return Brief{}, usage, ctx.Err()
			}
			reason = err.Error()
			continue
		}

		brief, perr := r.parseBrief(raw, topic, articles)
		if perr != nil {
			reason = perr.Error()
			continue
		}
		return brief, usage, nil
	}

	return Brief{}, usage, fmt.Errorf("no valid brief for %q after %d attempts: %s", topic.Name, r.cfg.RetryLimit+1, reason)
}

func (r *Researcher) parseBrief(raw string, topic Topic, articles []feeds.Item) (Brief, error) {
	payload, err := helpers.ExtractJSON(raw)
	if err != nil {
		return Brief{}, err
	}
	var out struct {
		Facts     []string `json:"facts"`
		Citations []string `json:"citations"`
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return Brief{}, fmt.Errorf("malformed brief JSON: %w", err)
	}

	facts := make([]string, 0, len(out.Facts))
	for _, f := range out.Facts {
		if strings.TrimSpace(f) != "" {
			facts = append(facts, strings.TrimSpace(f))
		}
	}
	if len(facts) == 0 {
		return Brief{}, errors.New("brief carries no facts")
	}

	// Citations the model invented are dropped; the article links stand in
	// when nothing usable remains.
	sourceLinks := make(map[string]bool, len(articles))
	for _, a := range articles {
		if a.Link != "" {
			sourceLinks[canonicalOrRaw(a.Link)] = true
		}
	}
	citations := make([]string, 0, len(out.Citations))
	seen := make(map[string]bool)
	for _, c := range out.Citations {
		canon := canonicalOrRaw(strings.TrimSpace(c))
		if canon == "" || seen[canon] || !sourceLinks[canon] {
			continue
		}
		seen[canon] = true
		citations = append(citations, canon)
	}
	if len(citations) == 0 {
		for _, a := range articles {
			if a.Link == "" {
				continue
			}
			canon := canonicalOrRaw(a.Link)
			if seen[canon] {
				continue
			}
			seen[canon] = true
			citations = append(citations, canon)
		}
	}

	return Brief{Topic: topic, Facts: facts, Citations: citations}, nil
}

// rankArticles orders the pool by relevance to the topic and keeps the best
// matches above the configured threshold.
func (r *Researcher) rankArticles(ctx context.Context, topic Topic, items []feeds.Item) []feeds.Item {
	if len(items) == 0 {
		return nil
	}

	scores := r.embeddingScores(ctx, topic, items)
	if scores == nil {
		scores = keywordScores(topic, items)
	}

	type scored struct {
		item  feeds.Item
		score float64
	}
	ranked := make([]scored, 0, len(items))
	for i, it := range items {
		if scores[i] >= r.cfg.RelevanceThreshold {
			ranked = append(ranked, scored{item: it, score: scores[i]})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	limit := r.cfg.ArticlesPerTopic
	if limit <= 0 {
		limit = 1
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]feeds.Item, len(ranked))
	for i, s := range ranked {
		out[i] = s.item
	}
	return out
}

// embeddingScores returns cosine similarities between the topic and every
// item, or nil when embeddings are unavailable.
func (r *Researcher) embeddingScores(ctx context.Context, topic Topic, items []feeds.Item) []float64 {
	if r.embedModel == "" {
		return nil
	}

	input := make([]string, 0, len(items)+1)
	input = append(input, strings.TrimSpace(topic.Name+". "+topic.Rationale))
	for _, it := range items {
		input = append(input, strings.TrimSpace(it.Title+". "+it.Summary))
	}

	vecs, err := r.provider.Embed(ctx, r.embedModel, input)
	if err != nil || len(vecs) != len(input) {
		r.log.Printf("embedding unavailable, falling back to keyword match: %v", err)
		return nil
	}

	scores := make([]float64, len(items))
	for i := range items {
		scores[i] = cosine(vecs[0], vecs[i+1])
	}
	return scores
}

// keywordScores is the fallback relevance measure: the fraction of topic
// words present in the item's title or summary.
func keywordScores(topic Topic, items []feeds.Item) []float64 {
	words := strings.Fields(normalizeTopicName(topic.Name))
	scores := make([]float64, len(items))
	if len(words) == 0 {
		return scores
	}
	for i, it := range items {
		haystack := strings.ToLower(it.Title + " " + it.Summary)
		hits := 0
		for _, w := range words {
			if strings.Contains(haystack, w) {
				hits++
			}
		}
		scores[i] = float64(hits) / float64(len(words))
	}
	return scores
}

func (r *Researcher) enrich(ctx context.Context, articles []feeds.Item) []feeds.Item {
	if r.content == nil {
		return articles
	}
	enriched := make([]feeds.Item, len(articles))
	copy(enriched, articles)
	for i := range enriched {
		if enriched[i].Link == "" || enriched[i].Content != "" {
			continue
		}
		text, err := r.content.Fetch(ctx, enriched[i].Link)
		if err != nil {
			r.log.Printf("enrichment failed for %s: %v", enriched[i].Link, err)
			continue
		}
		enriched[i].Content = text
	}
	return enriched
}

func canonicalOrRaw(link string) string {
	if canon, err := helpers.CanonicalURL(link); err == nil {
		return canon
	}
	return link
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
