package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/feeds"
	"github.com/ainexus/herald/internal/llm"
)

// stubProvider replays scripted completions in call order. When respond is
// set it takes precedence over the script.
type stubProvider struct {
	mu      sync.Mutex
	script  []stubReply
	respond func(prompt string) (string, error)
	embedFn func(input []string) ([][]float32, error)
	calls   int
	prompts []string
}

type stubReply struct {
	text string
	err  error
}

func scripted(replies ...stubReply) *stubProvider {
	return &stubProvider{script: replies}
}

func reply(text string) stubReply { return stubReply{text: text} }

func replyErr(msg string) stubReply { return stubReply{err: fmt.Errorf("%s", msg)} }

func (p *stubProvider) Generate(ctx context.Context, prompt, model string) (string, error) {
	text, _, _, err := p.GenerateWithTokens(ctx, prompt, model)
	return text, err
}

func (p *stubProvider) GenerateWithTokens(ctx context.Context, prompt, model string) (string, int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, 0, err
	}
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.prompts = append(p.prompts, prompt)
	respond := p.respond
	var r stubReply
	if respond == nil {
		if idx >= len(p.script) {
			p.mu.Unlock()
			return "", 0, 0, fmt.Errorf("unscripted call %d", idx+1)
		}
		r = p.script[idx]
	}
	p.mu.Unlock()

	if respond != nil {
		text, err := respond(prompt)
		if err != nil {
			return "", 0, 0, err
		}
		return text, 10, 5, nil
	}
	if r.err != nil {
		return "", 0, 0, r.err
	}
	return r.text, 10, 5, nil
}

func (p *stubProvider) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	if p.embedFn == nil {
		return nil, fmt.Errorf("embeddings not scripted")
	}
	return p.embedFn(input)
}

func (p *stubProvider) GetAvailableModels() []string { return []string{"stub"} }

func (p *stubProvider) GetModelInfo(model string) (llm.ModelInfo, error) {
	return llm.ModelInfo{Name: model, Provider: "stub"}, nil
}

func (p *stubProvider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return float64(inputTokens+outputTokens) / 1000 * 0.001
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *stubProvider) prompt(i int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.prompts) {
		return ""
	}
	return p.prompts[i]
}

func testPipelineConfig(topicCount int) config.PipelineConfig {
	return config.PipelineConfig{
		TopicCount:          topicCount,
		RetryLimit:          1,
		ResearchConcurrency: 1,
		CallTimeout:         5 * time.Second,
		RetryBackoff:        0,
		RelevanceThreshold:  0.2,
		ArticlesPerTopic:    3,
	}
}

func testPrompts() config.PromptsConfig {
	return config.PromptsConfig{
		Selector:      config.DefaultSelectorPrompt,
		SelectorRetry: config.DefaultSelectorRetryPrompt,
		Researcher:    config.DefaultResearcherPrompt,
		Writer:        config.DefaultWriterPrompt,
		WriterRetry:   config.DefaultWriterRetryPrompt,
	}
}

func testItems() []feeds.Item {
	return []feeds.Item{
		{Source: "arxiv", Title: "New scaling law for sparse models", Link: "https://example.com/scaling", Summary: "A study on sparse model scaling."},
		{Source: "blog", Title: "Inference prices drop again", Link: "https://example.com/prices", Summary: "Providers cut serving prices."},
		{Source: "news", Title: "Agents reach real deployments", Link: "https://example.com/agents", Summary: "Deployment stories from the field."},
		{Source: "news", Title: "Evaluation suites mature", Link: "https://example.com/evals", Summary: "Benchmarks grow up."},
	}
}
