package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/mazemind/internal/config"
	"github.com/fyrsmithlabs/mazemind/internal/provider"
)

// TEIClient embeds text through a HuggingFace text-embeddings-inference
// server.
type TEIClient struct {
	baseURL string
	model   string
	apiKey  config.Secret
	client  *http.Client
}

// NewTEIClient creates a TEI client.
func NewTEIClient(pc config.ProviderConfig, httpClient *http.Client) (*TEIClient, error) {
	if pc.BaseURL == "" {
		return nil, fmt.Errorf("%w: tei base URL required", ErrInvalidConfig)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &TEIClient{
		baseURL: strings.TrimRight(pc.BaseURL, "/"),
		model:   pc.EmbeddingModel,
		apiKey:  pc.APIKey,
		client:  httpClient,
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// Name implements Client.
func (c *TEIClient) Name() string { return config.ProviderTEI }

// Embed implements Client.
func (c *TEIClient) Embed(ctx context.Context, texts []string) (Batch, error) {
	if len(texts) == 0 {
		return Batch{}, ErrEmptyInput
	}

	body, err := json.Marshal(teiRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return Batch{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return Batch{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey.IsSet() {
		req.Header.Set("Authorization", "Bearer "+c.apiKey.Value())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %w", provider.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Batch{}, provider.StatusError(c.Name(), "embed", resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return Batch{}, fmt.Errorf("%w: decoding response: %w", provider.ErrInvalidResponse, err)
	}
	if len(vectors) != len(texts) {
		return Batch{}, fmt.Errorf("%w: got %d embeddings for %d inputs", provider.ErrInvalidResponse, len(vectors), len(texts))
	}

	return Batch{Vectors: vectors, Tokens: EstimateTokens(texts)}, nil
}

// Probe implements Client with the TEI health endpoint.
func (c *TEIClient) Probe(ctx context.Context) error {
	return livenessProbe(ctx, c.client, c.baseURL+"/health", c.Name())
}
