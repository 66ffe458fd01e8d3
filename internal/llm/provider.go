package llm

import (
	"context"
	"fmt"

	"github.com/ainexus/herald/config"
)

// Provider is the single boundary through which the pipeline talks to a
// language model. Implementations own auth, transport and provider-specific
// request shapes; stages only ever see prompt-in, text-out.
type Provider interface {
	// Generate produces a completion for the prompt using the given model.
	Generate(ctx context.Context, prompt string, model string) (string, error)

	// GenerateWithTokens produces a completion and reports token usage
	// (input, output) for cost accounting.
	GenerateWithTokens(ctx context.Context, prompt string, model string) (string, int64, int64, error)

	// Embed generates vector embeddings for the provided inputs.
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)

	// GetAvailableModels lists the model names this provider can serve.
	GetAvailableModels() []string

	// GetModelInfo returns metadata for a configured model.
	GetModelInfo(model string) (ModelInfo, error)

	// CalculateCost converts token usage into dollars for a model.
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// ModelInfo describes a configured model.
type ModelInfo struct {
	Name            string
	Provider        string
	MaxTokens       int
	CostPer1KInput  float64
	CostPer1KOutput float64
}

// NewProvider builds a Provider from configuration. With a single provider
// section its client is returned directly; with several, a router dispatches
// each call to the provider that owns the requested model.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}

	clients := make([]Provider, 0, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		switch pc.Type {
		case "openai":
			clients = append(clients, NewOpenAIProvider(pc))
		case "anthropic":
			clients = append(clients, NewAnthropicProvider(pc))
		default:
			return nil, fmt.Errorf("provider %s: unsupported type %q", name, pc.Type)
		}
	}
	if len(clients) == 1 {
		return clients[0], nil
	}

	byModel := make(map[string]Provider)
	for _, c := range clients {
		for _, m := range c.GetAvailableModels() {
			byModel[m] = c
		}
	}
	return &router{clients: clients, byModel: byModel}, nil
}

// router dispatches calls to the provider owning the requested model.
type router struct {
	clients []Provider
	byModel map[string]Provider
}

func (r *router) pick(model string) (Provider, error) {
	p, ok := r.byModel[model]
	if !ok {
		return nil, fmt.Errorf("model %q not configured on any provider", model)
	}
	return p, nil
}

func (r *router) Generate(ctx context.Context, prompt string, model string) (string, error) {
	p, err := r.pick(model)
	if err != nil {
		return "", err
	}
	return p.Generate(ctx, prompt, model)
}

func (r *router) GenerateWithTokens(ctx context.Context, prompt string, model string) (string, int64, int64, error) {
	p, err := r.pick(model)
	if err != nil {
		return "", 0, 0, err
	}
	return p.GenerateWithTokens(ctx, prompt, model)
}

func (r *router) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	p, err := r.pick(model)
	if err != nil {
		return nil, err
	}
	return p.Embed(ctx, model, input)
}

func (r *router) GetAvailableModels() []string {
	var models []string
	for _, c := range r.clients {
		models = append(models, c.GetAvailableModels()...)
	}
	return models
}

func (r *router) GetModelInfo(model string) (ModelInfo, error) {
	p, err := r.pick(model)
	if err != nil {
		return ModelInfo{}, err
	}
	return p.GetModelInfo(model)
}

func (r *router) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	p, err := r.pick(model)
	if err != nil {
		return 0.0
	}
	return p.CalculateCost(inputTokens, outputTokens, model)
}
