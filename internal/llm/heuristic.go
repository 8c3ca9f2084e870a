package llm

import (
	"context"

	"github.com/fyrsmithlabs/mazemind/internal/config"
)

// HeuristicClient is the non-generative mode. It is always available and
// rejects every generation request at once.
type HeuristicClient struct{}

// Name implements Client.
func (HeuristicClient) Name() string { return config.ProviderHeuristic }

// Generate implements Client. It always returns ErrHeuristicMode.
func (HeuristicClient) Generate(context.Context, string, Options) (Completion, error) {
	return Completion{}, ErrHeuristicMode
}

// Probe implements Client.
func (HeuristicClient) Probe(context.Context) error { return nil }
