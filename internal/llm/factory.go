package llm

import (
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/mazemind/internal/config"
	"github.com/fyrsmithlabs/mazemind/internal/provider"
	"go.uber.org/zap"
)

// NewClient creates the client for a named provider.
func NewClient(name string, cfg *config.Config, httpClient *http.Client) (Client, error) {
	pc, _ := cfg.Providers.Get(name)
	switch name {
	case config.ProviderAnthropic:
		return NewAnthropicClient(pc, httpClient)
	case config.ProviderOpenAI:
		return NewOpenAIClient(pc, httpClient)
	case config.ProviderOllama:
		return NewOllamaClient(pc, httpClient)
	case config.ProviderHeuristic:
		return HeuristicClient{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// NewFromConfig builds a Service over the configured providers.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lc := cfg.LLM
	httpClient := &http.Client{}

	opts := []Option{
		WithLogger(logger.Named("llm")),
		WithTimeout(lc.Timeout.Duration()),
		WithHealthTimeout(lc.HealthTimeout.Duration()),
		WithRetries(lc.MaxRetries, lc.RetryBackoff.Duration()),
		WithDefaults(Options{Temperature: lc.Temperature, MaxTokens: lc.MaxTokens}),
	}
	var clients []Client
	for _, name := range lc.Providers {
		c, err := NewClient(name, cfg, httpClient)
		if err != nil {
			return nil, fmt.Errorf("creating %s llm client: %w", name, err)
		}
		clients = append(clients, c)

		if pc, ok := cfg.Providers.Get(name); ok {
			opts = append(opts,
				WithGate(name, provider.NewGate(pc.RateLimit, pc.Burst, pc.MaxConcurrent)),
				WithUnitCost(name, pc.UnitCost),
			)
		}
	}
	return NewService(clients, lc.Provider, opts...)
}
