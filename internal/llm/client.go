// Package llm provides text generation over an ordered list of providers.
// Unlike embeddings there is no automatic failover: the active provider
// changes only through SetProvider or CycleProvider, and only after it
// passes an availability check.
package llm

import (
	"context"
	"errors"
	"unicode/utf8"
)

var (
	// ErrHeuristicMode is returned immediately by the heuristic provider.
	// It means no model is configured, not that a model produced nothing.
	ErrHeuristicMode = errors.New("heuristic mode: text generation unavailable")

	// ErrUnknownProvider indicates a provider name with no client.
	ErrUnknownProvider = errors.New("unknown llm provider")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyPrompt indicates an empty prompt.
	ErrEmptyPrompt = errors.New("empty prompt")
)

// Options tunes one generation request. Zero or nil fields take the service
// defaults. A non-nil Temperature is sent as is, so Float(0) requests
// deterministic output.
type Options struct {
	Temperature   *float64
	MaxTokens     int
	StopSequences []string
}

// Float returns a pointer to v for Options.Temperature.
func Float(v float64) *float64 { return &v }

// Completion is the result of one provider call.
type Completion struct {
	Text string
	// Tokens is prompt plus completion usage as reported by the provider,
	// or an estimate when it reports none.
	Tokens int
}

// Client is one backing text-generation service.
type Client interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts Options) (Completion, error)
	// Probe is a liveness request for local servers and a credential check
	// for cloud services.
	Probe(ctx context.Context) error
}

func estimateTokens(texts ...string) int {
	n := 0
	for _, t := range texts {
		n += (utf8.RuneCountInString(t) + 3) / 4
	}
	return n
}
