package llm

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ainexus/herald/config"
)

func openaiTestConfig(baseURL string) config.LLMProvider {
	return config.LLMProvider{
		Type:    "openai",
		APIKey:  "test-key",
		BaseURL: baseURL,
		Models: map[string]config.LLMModel{
			"mini": {
				Name:            "mini",
				APIName:         "gpt-4o-mini",
				MaxTokens:       256,
				CostPer1K:       0.00015,
				CostPer1KOutput: 0.0006,
			},
			"embed": {
				Name:    "embed",
				APIName: "text-embedding-3-small",
			},
		},
		Timeout: 5 * time.Second,
	}
}

func TestOpenAIGenerateWithTokens(t *testing.T) {
	var gotAuth, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel = req.Model
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "hello from stub"}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 7},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(openaiTestConfig(srv.URL))
	text, in, out, err := p.GenerateWithTokens(context.Background(), "say hello", "mini")
	if err != nil {
		t.Fatalf("GenerateWithTokens: %v", err)
	}
	if text != "hello from stub" {
		t.Fatalf("expected %q, got %q", "hello from stub", text)
	}
	if in != 12 || out != 7 {
		t.Fatalf("expected usage 12/7, got %d/%d", in, out)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotModel != "gpt-4o-mini" {
		t.Fatalf("expected api model gpt-4o-mini, got %q", gotModel)
	}
}

func TestOpenAIGenerateUnknownModel(t *testing.T) {
	p := NewOpenAIProvider(openaiTestConfig("http://localhost:0"))
	if _, err := p.Generate(context.Background(), "hi", "nope"); err == nil {
		t.Fatal("expected error for unconfigured model")
	}
}

func TestOpenAIGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(openaiTestConfig(srv.URL))
	_, err := p.Generate(context.Background(), "hi", "mini")
	if err == nil {
		t.Fatal("expected error on 429 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestOpenAIEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		// Return data out of order to exercise index mapping.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(openaiTestConfig(srv.URL))
	vecs, err := p.Embed(context.Background(), "embed", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("vectors not in input order: %v", vecs)
	}
}

func TestOpenAIEmbedEmptyInput(t *testing.T) {
	p := NewOpenAIProvider(openaiTestConfig("http://localhost:0"))
	vecs, err := p.Embed(context.Background(), "embed", nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs != nil {
		t.Fatalf("expected nil for empty input, got %v", vecs)
	}
}

func TestAnthropicGenerateWithTokens(t *testing.T) {
	var gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{
				{"type": "text", "text": "part one "},
				{"type": "text", "text": "part two"},
			},
			"usage": map[string]int{"input_tokens": 20, "output_tokens": 5},
		})
	}))
	defer srv.Close()

	cfg := config.LLMProvider{
		Type:    "anthropic",
		APIKey:  "anthropic-key",
		BaseURL: srv.URL,
		Models: map[string]config.LLMModel{
			"claude": {Name: "claude", APIName: "claude-3-5-haiku-20241022", MaxTokens: 512},
		},
		Timeout: 5 * time.Second,
	}
	p := NewAnthropicProvider(cfg)
	text, in, out, err := p.GenerateWithTokens(context.Background(), "hello", "claude")
	if err != nil {
		t.Fatalf("GenerateWithTokens: %v", err)
	}
	if text != "part one part two" {
		t.Fatalf("expected concatenated text blocks, got %q", text)
	}
	if in != 20 || out != 5 {
		t.Fatalf("expected usage 20/5, got %d/%d", in, out)
	}
	if gotKey != "anthropic-key" {
		t.Fatalf("expected x-api-key header, got %q", gotKey)
	}
	if gotVersion != "2023-06-01" {
		t.Fatalf("expected anthropic-version header, got %q", gotVersion)
	}
}

func TestAnthropicEmbedUnsupported(t *testing.T) {
	p := NewAnthropicProvider(config.LLMProvider{Type: "anthropic"})
	if _, err := p.Embed(context.Background(), "claude", []string{"x"}); err == nil {
		t.Fatal("expected error, anthropic has no embeddings endpoint")
	}
}

func TestCalculateCost(t *testing.T) {
	p := NewOpenAIProvider(openaiTestConfig(""))
	cost := p.CalculateCost(1000, 2000, "mini")
	want := 0.00015 + 2*0.0006
	if math.Abs(cost-want) > 1e-9 {
		t.Fatalf("expected cost %f, got %f", want, cost)
	}
	if got := p.CalculateCost(1000, 1000, "nope"); got != 0 {
		t.Fatalf("expected zero cost for unknown model, got %f", got)
	}
}

func TestNewProviderRouting(t *testing.T) {
	openaiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "from openai"}},
			},
		})
	}))
	defer openaiSrv.Close()
	anthropicSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "from anthropic"}},
		})
	}))
	defer anthropicSrv.Close()

	cfg := config.LLMConfig{
		Providers: map[string]config.LLMProvider{
			"openai": {
				Type:    "openai",
				APIKey:  "k1",
				BaseURL: openaiSrv.URL,
				Models:  map[string]config.LLMModel{"mini": {Name: "mini"}},
			},
			"anthropic": {
				Type:    "anthropic",
				APIKey:  "k2",
				BaseURL: anthropicSrv.URL,
				Models:  map[string]config.LLMModel{"claude": {Name: "claude", MaxTokens: 64}},
			},
		},
	}
	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	got, err := p.Generate(context.Background(), "hi", "mini")
	if err != nil {
		t.Fatalf("Generate via openai: %v", err)
	}
	if got != "from openai" {
		t.Fatalf("expected %q, got %q", "from openai", got)
	}

	got, err = p.Generate(context.Background(), "hi", "claude")
	if err != nil {
		t.Fatalf("Generate via anthropic: %v", err)
	}
	if got != "from anthropic" {
		t.Fatalf("expected %q, got %q", "from anthropic", got)
	}

	if _, err := p.Generate(context.Background(), "hi", "mystery"); err == nil {
		t.Fatal("expected error for model not on any provider")
	}

	if len(p.GetAvailableModels()) != 2 {
		t.Fatalf("expected 2 models, got %v", p.GetAvailableModels())
	}
}

func TestNewProviderErrors(t *testing.T) {
	if _, err := NewProvider(config.LLMConfig{}); err == nil {
		t.Fatal("expected error with no providers")
	}
	cfg := config.LLMConfig{
		Providers: map[string]config.LLMProvider{
			"x": {Type: "cohere"},
		},
	}
	if _, err := NewProvider(cfg); err == nil {
		t.Fatal("expected error for unsupported provider type")
	}
}
