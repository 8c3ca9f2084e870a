// Package config provides configuration loading for mazemind.
//
// Configuration is a single structured object covering the embedding and
// LLM provider chains, provider credentials, retrieval weights, reflection
// triggers and the ambient server, logging and telemetry settings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Known provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderTEI       = "tei"
	ProviderHash      = "hash"
	ProviderHeuristic = "heuristic"
)

// Accumulator reset policies applied after a successful reflection.
const (
	ResetZero     = "zero"
	ResetResidual = "residual"
)

var (
	embeddingProviders = map[string]bool{ProviderOpenAI: true, ProviderOllama: true, ProviderTEI: true, ProviderHash: true}
	llmProviders       = map[string]bool{ProviderAnthropic: true, ProviderOpenAI: true, ProviderOllama: true, ProviderHeuristic: true}
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete mazemind configuration.
type Config struct {
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	LLM           LLMConfig           `koanf:"llm"`
	Providers     ProvidersConfig     `koanf:"providers"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	Reflection    ReflectionConfig    `koanf:"reflection"`
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// EmbeddingsConfig configures the embedding provider chain.
type EmbeddingsConfig struct {
	Provider      string   `koanf:"provider"`
	FallbackChain []string `koanf:"fallback_chain"`
	MaxCacheSize  int      `koanf:"max_cache_size"`
	// Dimension every vector in the session must have.
	Dimension        int      `koanf:"dimension"`
	Timeout          Duration `koanf:"timeout"`
	FailureThreshold int      `koanf:"failure_threshold"`
	HealthInterval   Duration `koanf:"health_interval"`
	HealthTimeout    Duration `koanf:"health_timeout"`
}

// Chain returns the primary provider followed by the fallbacks, without
// duplicates.
func (c EmbeddingsConfig) Chain() []string {
	return dedupe(append([]string{c.Provider}, c.FallbackChain...))
}

// LLMConfig configures text generation.
type LLMConfig struct {
	Provider string `koanf:"provider"`
	// Providers is the cycling order for CycleProvider.
	Providers     []string `koanf:"providers"`
	Timeout       Duration `koanf:"timeout"`
	HealthTimeout Duration `koanf:"health_timeout"`
	MaxRetries    int      `koanf:"max_retries"`
	RetryBackoff  Duration `koanf:"retry_backoff"`
	Temperature   *float64 `koanf:"temperature"`
	MaxTokens     int      `koanf:"max_tokens"`
}

// ProviderConfig holds credentials and limits for one backing service.
type ProviderConfig struct {
	APIKey         Secret `koanf:"api_key"`
	BaseURL        string `koanf:"base_url"`
	Model          string `koanf:"model"`
	EmbeddingModel string `koanf:"embedding_model"`
	// UnitCost is the price per 1K tokens.
	UnitCost float64 `koanf:"unit_cost"`
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit     float64 `koanf:"rate_limit"`
	Burst         int     `koanf:"burst"`
	MaxConcurrent int     `koanf:"max_concurrent"`
}

// ProvidersConfig holds per-provider settings.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `koanf:"openai"`
	Anthropic ProviderConfig `koanf:"anthropic"`
	Ollama    ProviderConfig `koanf:"ollama"`
	TEI       ProviderConfig `koanf:"tei"`
}

// Get returns the settings for a named provider. Providers without settings
// (hash, heuristic) return the zero value and false.
func (p ProvidersConfig) Get(name string) (ProviderConfig, bool) {
	switch name {
	case ProviderOpenAI:
		return p.OpenAI, true
	case ProviderAnthropic:
		return p.Anthropic, true
	case ProviderOllama:
		return p.Ollama, true
	case ProviderTEI:
		return p.TEI, true
	}
	return ProviderConfig{}, false
}

// RetrievalConfig configures composite ranking.
type RetrievalConfig struct {
	Weights  WeightsConfig `koanf:"weights"`
	HalfLife Duration      `koanf:"half_life"`
	DefaultK int           `koanf:"default_k"`
}

// WeightsConfig holds the three composite score weights.
type WeightsConfig struct {
	Recency    float64 `koanf:"recency"`
	Importance float64 `koanf:"importance"`
	Relevance  float64 `koanf:"relevance"`
}

// ReflectionConfig configures reflection triggers and the pipeline.
type ReflectionConfig struct {
	Threshold int `koanf:"threshold"`
	// Interval is the time trigger; 0 disables it.
	Interval       Duration `koanf:"interval"`
	ResetPolicy    string   `koanf:"reset_policy"`
	QuestionCount  int      `koanf:"question_count"`
	RecentMemories int      `koanf:"recent_memories"`
	EvidenceK      int      `koanf:"evidence_k"`
	MetaThreshold  int      `koanf:"meta_threshold"`
	MaxLevel       int      `koanf:"max_level"`
	Temperature    *float64 `koanf:"temperature"`
	CheckInterval  Duration `koanf:"check_interval"`
	// MaxConcurrentAgents bounds how many agents reflect at once.
	MaxConcurrentAgents int `koanf:"max_concurrent_agents"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig is the flat logging section; see logging.FromSettings.
type LoggingConfig struct {
	Level           string            `koanf:"level"`
	Format          string            `koanf:"format"`
	DisableSampling bool              `koanf:"disable_sampling"`
	Fields          map[string]string `koanf:"fields"`
}

// ObservabilityConfig holds OpenTelemetry settings.
type ObservabilityConfig struct {
	EnableTelemetry bool     `koanf:"enable_telemetry"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"`
	Insecure        bool     `koanf:"insecure"`
	ServiceName     string   `koanf:"service_name"`
	SampleRate      float64  `koanf:"sample_rate"`
	ExportInterval  Duration `koanf:"export_interval"`
}

// Default returns a fully populated configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values.
func applyDefaults(cfg *Config) {
	e := &cfg.Embeddings
	if e.Provider == "" {
		e.Provider = ProviderOllama
	}
	if len(e.FallbackChain) == 0 {
		e.FallbackChain = []string{ProviderHash}
	}
	if e.MaxCacheSize == 0 {
		e.MaxCacheSize = 4096
	}
	if e.Dimension == 0 {
		e.Dimension = 768
	}
	if e.Timeout == 0 {
		e.Timeout = Duration(10 * time.Second)
	}
	if e.FailureThreshold == 0 {
		e.FailureThreshold = 3
	}
	if e.HealthInterval == 0 {
		e.HealthInterval = Duration(30 * time.Second)
	}
	if e.HealthTimeout == 0 {
		e.HealthTimeout = Duration(5 * time.Second)
	}

	l := &cfg.LLM
	if l.Provider == "" {
		l.Provider = ProviderOllama
	}
	if len(l.Providers) == 0 {
		l.Providers = []string{ProviderOllama, ProviderAnthropic, ProviderOpenAI, ProviderHeuristic}
	}
	if l.Timeout == 0 {
		l.Timeout = Duration(30 * time.Second)
	}
	if l.HealthTimeout == 0 {
		l.HealthTimeout = Duration(5 * time.Second)
	}
	if l.RetryBackoff == 0 {
		l.RetryBackoff = Duration(time.Second)
	}
	if l.Temperature == nil {
		l.Temperature = float64Ptr(0.7)
	}
	if l.MaxTokens == 0 {
		l.MaxTokens = 512
	}

	p := &cfg.Providers
	if p.OpenAI.BaseURL == "" {
		p.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if p.OpenAI.Model == "" {
		p.OpenAI.Model = "gpt-4o-mini"
	}
	if p.OpenAI.EmbeddingModel == "" {
		p.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}
	if p.OpenAI.UnitCost == 0 {
		p.OpenAI.UnitCost = 0.00015
	}
	if p.Anthropic.Model == "" {
		p.Anthropic.Model = "claude-3-5-haiku-latest"
	}
	if p.Anthropic.UnitCost == 0 {
		p.Anthropic.UnitCost = 0.0008
	}
	if p.Ollama.BaseURL == "" {
		p.Ollama.BaseURL = "http://localhost:11434"
	}
	if p.Ollama.Model == "" {
		p.Ollama.Model = "llama3.2"
	}
	if p.Ollama.EmbeddingModel == "" {
		p.Ollama.EmbeddingModel = "nomic-embed-text"
	}
	if p.TEI.BaseURL == "" {
		p.TEI.BaseURL = "http://localhost:8080"
	}
	if p.TEI.EmbeddingModel == "" {
		p.TEI.EmbeddingModel = "BAAI/bge-small-en-v1.5"
	}
	for _, pc := range []*ProviderConfig{&p.OpenAI, &p.Anthropic, &p.Ollama, &p.TEI} {
		if pc.MaxConcurrent == 0 {
			pc.MaxConcurrent = 8
		}
		if pc.RateLimit > 0 && pc.Burst == 0 {
			pc.Burst = 1
		}
	}

	r := &cfg.Retrieval
	if r.Weights == (WeightsConfig{}) {
		r.Weights = WeightsConfig{Recency: 1, Importance: 1, Relevance: 1}
	}
	if r.HalfLife == 0 {
		r.HalfLife = Duration(time.Hour)
	}
	if r.DefaultK == 0 {
		r.DefaultK = 10
	}

	rf := &cfg.Reflection
	if rf.Threshold == 0 {
		rf.Threshold = 150
	}
	if rf.ResetPolicy == "" {
		rf.ResetPolicy = ResetZero
	}
	if rf.QuestionCount == 0 {
		rf.QuestionCount = 3
	}
	if rf.RecentMemories == 0 {
		rf.RecentMemories = 100
	}
	if rf.EvidenceK == 0 {
		rf.EvidenceK = 10
	}
	if rf.MetaThreshold == 0 {
		rf.MetaThreshold = rf.Threshold
	}
	if rf.MaxLevel == 0 {
		rf.MaxLevel = 3
	}
	if rf.Temperature == nil {
		rf.Temperature = float64Ptr(0.5)
	}
	if rf.CheckInterval == 0 {
		rf.CheckInterval = Duration(5 * time.Second)
	}
	if rf.MaxConcurrentAgents == 0 {
		rf.MaxConcurrentAgents = 8
	}

	s := &cfg.Server
	if s.Host == "" {
		s.Host = "localhost"
	}
	if s.Port == 0 {
		s.Port = 9191
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	o := &cfg.Observability
	if o.ServiceName == "" {
		o.ServiceName = "mazemind"
	}
	if o.Endpoint == "" {
		o.Endpoint = "localhost:4317"
	}
	if o.Protocol == "" {
		o.Protocol = "grpc"
	}
	if o.SampleRate == 0 {
		o.SampleRate = 1.0
	}
	if o.ExportInterval == 0 {
		o.ExportInterval = Duration(15 * time.Second)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if !embeddingProviders[c.Embeddings.Provider] {
		errs = append(errs, fmt.Errorf("embeddings.provider: unknown provider %q", c.Embeddings.Provider))
	}
	for _, name := range c.Embeddings.FallbackChain {
		if !embeddingProviders[name] {
			errs = append(errs, fmt.Errorf("embeddings.fallback_chain: unknown provider %q", name))
		}
	}
	if c.Embeddings.MaxCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("embeddings.max_cache_size must be positive, got %d", c.Embeddings.MaxCacheSize))
	}
	if c.Embeddings.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embeddings.dimension must be >= 0, got %d", c.Embeddings.Dimension))
	}
	if c.Embeddings.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("embeddings.failure_threshold must be >= 1"))
	}

	if !llmProviders[c.LLM.Provider] {
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	inOrder := false
	for _, name := range c.LLM.Providers {
		if !llmProviders[name] {
			errs = append(errs, fmt.Errorf("llm.providers: unknown provider %q", name))
		}
		if name == c.LLM.Provider {
			inOrder = true
		}
	}
	if !inOrder {
		errs = append(errs, fmt.Errorf("llm.providers must include llm.provider %q", c.LLM.Provider))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.max_retries must be >= 0"))
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("llm.temperature must be in [0,2], got %v", *t))
	}
	if t := c.Reflection.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("reflection.temperature must be in [0,2], got %v", *t))
	}

	w := c.Retrieval.Weights
	if w.Recency < 0 || w.Importance < 0 || w.Relevance < 0 {
		errs = append(errs, fmt.Errorf("retrieval.weights must be non-negative"))
	}
	if w.Recency+w.Importance+w.Relevance <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.weights must not all be zero"))
	}
	if c.Retrieval.HalfLife.Duration() <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.half_life must be positive"))
	}

	rf := c.Reflection
	if rf.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("reflection.threshold must be positive, got %d", rf.Threshold))
	}
	if rf.ResetPolicy != ResetZero && rf.ResetPolicy != ResetResidual {
		errs = append(errs, fmt.Errorf("reflection.reset_policy must be %q or %q, got %q", ResetZero, ResetResidual, rf.ResetPolicy))
	}
	if rf.QuestionCount <= 0 || rf.EvidenceK <= 0 || rf.RecentMemories <= 0 {
		errs = append(errs, fmt.Errorf("reflection.question_count, evidence_k and recent_memories must be positive"))
	}
	if rf.MaxLevel < 1 {
		errs = append(errs, fmt.Errorf("reflection.max_level must be >= 1"))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port out of range: %d", c.Server.Port))
	}
	if c.Observability.EnableTelemetry {
		switch strings.ToLower(c.Observability.Protocol) {
		case "grpc", "http":
		default:
			errs = append(errs, fmt.Errorf("observability.protocol must be grpc or http, got %q", c.Observability.Protocol))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func float64Ptr(v float64) *float64 { return &v }
