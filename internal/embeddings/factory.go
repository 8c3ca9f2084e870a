package embeddings

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
	case config.ProviderOpenAI:
		return NewOpenAIClient(pc, cfg.Embeddings.Dimension, httpClient)
	case config.ProviderOllama:
		return NewOllamaClient(pc, httpClient)
	case config.ProviderTEI:
		return NewTEIClient(pc, httpClient)
	case config.ProviderHash:
		return NewHashClient(cfg.Embeddings.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// NewFromConfig builds a Service over the configured chain, with a gate
// and unit cost per provider.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ec := cfg.Embeddings
	httpClient := &http.Client{Timeout: ec.Timeout.Duration()}

	var clients []Client
	opts := []Option{
		WithLogger(logger.Named("embeddings")),
		WithTimeout(ec.Timeout.Duration()),
		WithFailureThreshold(ec.FailureThreshold),
		WithDimension(ec.Dimension),
	}
	for _, name := range ec.Chain() {
		c, err := NewClient(name, cfg, httpClient)
		if err != nil {
			return nil, fmt.Errorf("creating %s embedding client: %w", name, err)
		}
		clients = append(clients, c)

		if pc, ok := cfg.Providers.Get(name); ok {
			opts = append(opts,
				WithGate(name, provider.NewGate(pc.RateLimit, pc.Burst, pc.MaxConcurrent)),
				WithUnitCost(name, pc.UnitCost),
			)
		}
	}

	return NewService(clients, ec.MaxCacheSize, opts...)
}
