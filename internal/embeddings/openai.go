package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/mazemind/internal/config"
	"github.com/fyrsmithlabs/mazemind/internal/provider"
	"github.com/sashabaranov/go-openai"
)

// OpenAIClient embeds text through the OpenAI embeddings API, or any
// OpenAI-compatible endpoint.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	dimensions int
	apiKey     config.Secret
}

// NewOpenAIClient creates an OpenAI embedding client. dimensions > 0 asks
// the API for shortened vectors (text-embedding-3 models).
func NewOpenAIClient(pc config.ProviderConfig, dimensions int, httpClient *http.Client) (*OpenAIClient, error) {
	if pc.EmbeddingModel == "" {
		return nil, fmt.Errorf("%w: openai embedding model required", ErrInvalidConfig)
	}
	cfg := openai.DefaultConfig(pc.APIKey.Value())
	if pc.BaseURL != "" {
		cfg.BaseURL = pc.BaseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(cfg),
		model:      pc.EmbeddingModel,
		dimensions: dimensions,
		apiKey:     pc.APIKey,
	}, nil
}

// Name implements Client.
func (c *OpenAIClient) Name() string { return config.ProviderOpenAI }

// Embed implements Client.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) (Batch, error) {
	if len(texts) == 0 {
		return Batch{}, ErrEmptyInput
	}
	if !c.apiKey.IsSet() {
		return Batch{}, fmt.Errorf("%w: openai api key not configured", provider.ErrProviderUnavailable)
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	}
	if c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return Batch{}, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return Batch{}, fmt.Errorf("%w: got %d embeddings for %d inputs", provider.ErrInvalidResponse, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || vectors[d.Index] != nil {
			return Batch{}, fmt.Errorf("%w: bad embedding index %d", provider.ErrInvalidResponse, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.PromptTokens
	}
	return Batch{Vectors: vectors, Tokens: tokens}, nil
}

// Probe implements Client with a credential check.
func (c *OpenAIClient) Probe(context.Context) error {
	if !c.apiKey.IsSet() {
		return fmt.Errorf("%w: openai api key not configured", provider.ErrProviderUnavailable)
	}
	return nil
}

// classifyOpenAIError maps go-openai errors onto the provider taxonomy.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if kind := provider.KindForStatus(apiErr.HTTPStatusCode); kind != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if kind := provider.KindForStatus(reqErr.HTTPStatusCode); kind != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
	}
	return err
}
