package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the newsletter service.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Feeds      FeedsConfig      `mapstructure:"feeds"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Prompts    PromptsConfig    `mapstructure:"prompts"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails"`
	Content    ContentConfig    `mapstructure:"content"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations.
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration.
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai or anthropic
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration.
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model handles each pipeline stage.
type LLMRoutingConfig struct {
	Selector   string `mapstructure:"selector"`
	Researcher string `mapstructure:"researcher"`
	Writer     string `mapstructure:"writer"`
	Embedding  string `mapstructure:"embedding"` // empty disables semantic relevance filtering
	Fallback   string `mapstructure:"fallback"`
}

// FeedSource is a single configured RSS source.
type FeedSource struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// FeedsConfig contains RSS source settings.
type FeedsConfig struct {
	Sources      []FeedSource  `mapstructure:"sources"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxPerSource int           `mapstructure:"max_per_source"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"` // 0 disables the feed cache
}

// PipelineConfig tunes the generation pipeline.
type PipelineConfig struct {
	TopicCount          int           `mapstructure:"topic_count"`
	RetryLimit          int           `mapstructure:"retry_limit"`
	ResearchConcurrency int           `mapstructure:"research_concurrency"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	RelevanceThreshold  float64       `mapstructure:"relevance_threshold"`
	ArticlesPerTopic    int           `mapstructure:"articles_per_topic"`
}

// PromptsConfig holds the per-stage prompt templates (Go text/template syntax).
type PromptsConfig struct {
	Selector      string `mapstructure:"selector"`
	SelectorRetry string `mapstructure:"selector_retry"`
	Researcher    string `mapstructure:"researcher"`
	Writer        string `mapstructure:"writer"`
	WriterRetry   string `mapstructure:"writer_retry"`
}

// GuardrailsConfig configures the validation gate.
type GuardrailsConfig struct {
	Denylist []string `mapstructure:"denylist"`
}

// ContentConfig controls article content enrichment during research.
type ContentConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	FetchMode string        `mapstructure:"fetch_mode"` // http or chromedp
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxChars  int           `mapstructure:"max_chars"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	OutputDir string         `mapstructure:"output_dir"`
	Postgres  PostgresConfig `mapstructure:"postgres"`
	Redis     RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings for the run archive.
// Empty host and URL disable the database store.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig contains Redis settings, shared by the feed cache and the
// scheduler lock. Empty host disables both.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ArchiveConfig controls the newsletter search index.
type ArchiveConfig struct {
	IndexPath string `mapstructure:"index_path"` // empty disables search
}

// ScheduleConfig enables periodic generation in serve mode.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"` // empty disables; supports @daily/@hourly and 5-field cron
}

// TelemetryConfig contains telemetry and cost tracking settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// DSN assembles the lib/pq connection string. Empty when Postgres is not configured.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	if p.Host == "" || p.DBName == "" {
		return ""
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// Addr renders the host:port address, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", r.Host, port)
}

// Load reads configuration from an optional YAML file plus environment
// variables. path may name a file directly; when empty the standard
// locations (./config.yaml, ./config/config.yaml) are searched.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("HERALD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Model names default to their map key so YAML entries need not repeat it.
	for pname, provider := range cfg.LLM.Providers {
		for mname, model := range provider.Models {
			if model.Name == "" {
				model.Name = mname
				provider.Models[mname] = model
			}
		}
		cfg.LLM.Providers[pname] = provider
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")

	v.SetDefault("server.address", ":8090")

	v.SetDefault("llm.providers.openai.type", "openai")
	v.SetDefault("llm.providers.openai.timeout", "60s")
	v.SetDefault("llm.providers.openai.models", map[string]interface{}{
		"gpt-4o-mini": map[string]interface{}{
			"name":               "gpt-4o-mini",
			"api_name":           "gpt-4o-mini",
			"max_tokens":         4096,
			"temperature":        0.0,
			"cost_per_1k_input":  0.00015,
			"cost_per_1k_output": 0.0006,
		},
		"text-embedding-3-small": map[string]interface{}{
			"name":              "text-embedding-3-small",
			"api_name":          "text-embedding-3-small",
			"cost_per_1k_input": 0.00002,
		},
	})
	v.SetDefault("llm.routing.selector", "gpt-4o-mini")
	v.SetDefault("llm.routing.researcher", "gpt-4o-mini")
	v.SetDefault("llm.routing.writer", "gpt-4o-mini")
	v.SetDefault("llm.routing.embedding", "text-embedding-3-small")
	v.SetDefault("llm.routing.fallback", "gpt-4o-mini")

	v.SetDefault("feeds.sources", []map[string]interface{}{
		{"name": "techcrunch_ai", "url": "https://techcrunch.com/category/artificial-intelligence/feed/"},
		{"name": "venturebeat_ai", "url": "https://venturebeat.com/category/ai/feed/"},
		{"name": "mit_tech_review", "url": "https://www.technologyreview.com/feed/"},
	})
	v.SetDefault("feeds.timeout", "20s")
	v.SetDefault("feeds.max_per_source", 50)
	v.SetDefault("feeds.cache_ttl", "0s")

	v.SetDefault("pipeline.topic_count", 5)
	v.SetDefault("pipeline.retry_limit", 1)
	v.SetDefault("pipeline.research_concurrency", 1)
	v.SetDefault("pipeline.call_timeout", "60s")
	v.SetDefault("pipeline.retry_backoff", "2s")
	v.SetDefault("pipeline.relevance_threshold", 0.7)
	v.SetDefault("pipeline.articles_per_topic", 1)

	v.SetDefault("prompts.selector", DefaultSelectorPrompt)
	v.SetDefault("prompts.selector_retry", DefaultSelectorRetryPrompt)
	v.SetDefault("prompts.researcher", DefaultResearcherPrompt)
	v.SetDefault("prompts.writer", DefaultWriterPrompt)
	v.SetDefault("prompts.writer_retry", DefaultWriterRetryPrompt)

	v.SetDefault("guardrails.denylist", []string{"internal", "confidential"})

	v.SetDefault("content.enabled", false)
	v.SetDefault("content.fetch_mode", "http")
	v.SetDefault("content.timeout", "15s")
	v.SetDefault("content.max_chars", 8000)

	v.SetDefault("storage.output_dir", "outputs")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)

	v.SetDefault("archive.index_path", "")

	v.SetDefault("schedule.cron", "")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracking", true)
	v.SetDefault("telemetry.periodic_logs", false)
}

// overrideFromEnv applies well-known environment variables for sensitive data.
func overrideFromEnv(v *viper.Viper) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		v.Set("llm.providers.openai.api_key", apiKey)
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		v.Set("llm.providers.anthropic.api_key", apiKey)
	}
	if secret := os.Getenv("HERALD_JWT_SECRET"); secret != "" {
		v.Set("server.jwt_secret", secret)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		v.Set("storage.postgres.url", url)
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		v.Set("storage.postgres.host", host)
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("storage.postgres.port", p)
		}
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		v.Set("storage.postgres.user", user)
	}
	if pass := os.Getenv("POSTGRES_PASSWORD"); pass != "" {
		v.Set("storage.postgres.password", pass)
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		v.Set("storage.postgres.dbname", db)
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		v.Set("storage.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("storage.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		v.Set("storage.redis.password", password)
	}
}

// Validate checks cross-field consistency. It does not require API keys so
// that offline commands (migrate, tests) can still load configuration.
func (c *Config) Validate() error {
	if len(c.LLM.Providers) == 0 {
		return fmt.Errorf("at least one LLM provider must be configured")
	}
	for name, p := range c.LLM.Providers {
		if p.Type != "openai" && p.Type != "anthropic" {
			return fmt.Errorf("provider %s: unsupported type %q", name, p.Type)
		}
	}

	routed := []string{
		c.LLM.Routing.Selector,
		c.LLM.Routing.Researcher,
		c.LLM.Routing.Writer,
		c.LLM.Routing.Fallback,
	}
	if c.LLM.Routing.Embedding != "" {
		routed = append(routed, c.LLM.Routing.Embedding)
	}
	for _, model := range routed {
		if model == "" {
			continue
		}
		if !c.hasModel(model) {
			return fmt.Errorf("routing model %q not found in any provider", model)
		}
	}

	if len(c.Feeds.Sources) == 0 {
		return fmt.Errorf("at least one feed source must be configured")
	}
	seen := make(map[string]struct{}, len(c.Feeds.Sources))
	for _, s := range c.Feeds.Sources {
		if s.URL == "" {
			return fmt.Errorf("feed source %q has no url", s.Name)
		}
		if _, dup := seen[s.URL]; dup {
			return fmt.Errorf("feed source url %q configured twice", s.URL)
		}
		seen[s.URL] = struct{}{}
	}

	if c.Pipeline.TopicCount < 1 {
		return fmt.Errorf("pipeline.topic_count must be >= 1")
	}
	if c.Pipeline.RetryLimit < 0 {
		return fmt.Errorf("pipeline.retry_limit must be >= 0")
	}
	if c.Pipeline.ResearchConcurrency < 1 {
		return fmt.Errorf("pipeline.research_concurrency must be >= 1")
	}
	if c.Pipeline.CallTimeout <= 0 {
		return fmt.Errorf("pipeline.call_timeout must be positive")
	}
	if c.Pipeline.RelevanceThreshold < 0 || c.Pipeline.RelevanceThreshold > 1 {
		return fmt.Errorf("pipeline.relevance_threshold must be within [0,1]")
	}
	if c.Pipeline.ArticlesPerTopic < 1 {
		return fmt.Errorf("pipeline.articles_per_topic must be >= 1")
	}

	if c.Content.FetchMode != "http" && c.Content.FetchMode != "chromedp" {
		return fmt.Errorf("content.fetch_mode must be http or chromedp")
	}

	return nil
}

func (c *Config) hasModel(name string) bool {
	for _, provider := range c.LLM.Providers {
		for _, model := range provider.Models {
			if model.Name == name {
				return true
			}
		}
	}
	return false
}
