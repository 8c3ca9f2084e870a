package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/fyrsmithlabs/mazemind/internal/config"
	"github.com/fyrsmithlabs/mazemind/internal/provider"
)

// AnthropicClient generates text with the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
	apiKey config.Secret
}

// NewAnthropicClient creates an Anthropic client. SDK retries are disabled;
// the Service owns retry policy.
func NewAnthropicClient(pc config.ProviderConfig, httpClient *http.Client) (*AnthropicClient, error) {
	if pc.Model == "" {
		return nil, fmt.Errorf("%w: anthropic model required", ErrInvalidConfig)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(pc.APIKey.Value()),
		option.WithMaxRetries(0),
	}
	if pc.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(pc.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  pc.Model,
		apiKey: pc.APIKey,
	}, nil
}

// Name implements Client.
func (c *AnthropicClient) Name() string { return config.ProviderAnthropic }

// Generate implements Client.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, opts Options) (Completion, error) {
	if !c.apiKey.IsSet() {
		return Completion{}, fmt.Errorf("%w: anthropic api key not configured", provider.ErrProviderUnavailable)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(opts.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if len(opts.StopSequences) > 0 {
		params.StopSequences = opts.StopSequences
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Completion{}, classifyAnthropicError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return Completion{
		Text:   sb.String(),
		Tokens: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}

// Probe implements Client with a credential check.
func (c *AnthropicClient) Probe(context.Context) error {
	if !c.apiKey.IsSet() {
		return fmt.Errorf("%w: anthropic api key not configured", provider.ErrProviderUnavailable)
	}
	return nil
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if kind := provider.KindForStatus(apiErr.StatusCode); kind != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
	}
	return err
}
