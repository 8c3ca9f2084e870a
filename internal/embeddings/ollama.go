package embeddings

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/mazemind/internal/config"
	"github.com/fyrsmithlabs/mazemind/internal/provider"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaClient embeds text through a local Ollama server.
type OllamaClient struct {
	llm     *ollama.LLM
	baseURL string
	http    *http.Client
}

// NewOllamaClient creates an Ollama embedding client for pc.EmbeddingModel.
func NewOllamaClient(pc config.ProviderConfig, httpClient *http.Client) (*OllamaClient, error) {
	if pc.BaseURL == "" || pc.EmbeddingModel == "" {
		return nil, fmt.Errorf("%w: ollama base URL and embedding model required", ErrInvalidConfig)
	}
	llm, err := ollama.New(
		ollama.WithModel(pc.EmbeddingModel),
		ollama.WithServerURL(pc.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaClient{
		llm:     llm,
		baseURL: strings.TrimRight(pc.BaseURL, "/"),
		http:    httpClient,
	}, nil
}

// Name implements Client.
func (c *OllamaClient) Name() string { return config.ProviderOllama }

// Embed implements Client. Ollama does not report token usage, so tokens
// are estimated.
func (c *OllamaClient) Embed(ctx context.Context, texts []string) (Batch, error) {
	if len(texts) == 0 {
		return Batch{}, ErrEmptyInput
	}
	vectors, err := c.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return Batch{}, err
	}
	if len(vectors) != len(texts) {
		return Batch{}, fmt.Errorf("%w: got %d embeddings for %d inputs", provider.ErrInvalidResponse, len(vectors), len(texts))
	}
	return Batch{Vectors: vectors, Tokens: EstimateTokens(texts)}, nil
}

// Probe implements Client with a liveness request against the server root.
func (c *OllamaClient) Probe(ctx context.Context) error {
	return livenessProbe(ctx, c.http, c.baseURL+"/", config.ProviderOllama)
}

func livenessProbe(ctx context.Context, client *http.Client, url, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", provider.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return provider.StatusError(name, "probe", resp.StatusCode, resp.Status)
	}
	return nil
}
