// Package embeddings turns text into vectors through an ordered chain of
// providers with sticky failover, an LRU cache and per-provider statistics.
//
// Supported providers: OpenAI (cloud), Ollama and TEI (local inference
// servers) and a deterministic feature-hashing embedder that needs no
// network and backs the chain when everything else fails.
package embeddings

import (
	"context"
	"errors"
	"unicode/utf8"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownProvider indicates a provider name with no client.
	ErrUnknownProvider = errors.New("unknown embedding provider")
)

// Batch is the result of one provider call.
type Batch struct {
	// Vectors are in input order.
	Vectors [][]float32
	// Tokens is the provider-reported token usage, or an estimate when the
	// provider does not report it.
	Tokens int
}

// Client is one backing embedding service.
type Client interface {
	Name() string
	Embed(ctx context.Context, texts []string) (Batch, error)
	// Probe reports whether the provider can serve requests: a liveness
	// request for local servers, a credential check for cloud services.
	Probe(ctx context.Context) error
}

// EstimateTokens approximates token usage at four characters per token for
// providers that do not report usage.
func EstimateTokens(texts []string) int {
	n := 0
	for _, t := range texts {
		n += (utf8.RuneCountInString(t) + 3) / 4
	}
	return n
}
