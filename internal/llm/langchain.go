package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/mazemind/internal/config"
	"github.com/fyrsmithlabs/mazemind/internal/provider"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// ModelClient generates text through a langchaingo model. It backs the
// openai and ollama providers.
type ModelClient struct {
	name  string
	model llms.Model
	probe func(ctx context.Context) error
}

// NewOpenAIClient creates an OpenAI (or OpenAI-compatible) client.
func NewOpenAIClient(pc config.ProviderConfig, httpClient *http.Client) (*ModelClient, error) {
	if pc.Model == "" {
		return nil, fmt.Errorf("%w: openai model required", ErrInvalidConfig)
	}
	credentials := func(context.Context) error {
		if !pc.APIKey.IsSet() {
			return fmt.Errorf("%w: openai api key not configured", provider.ErrProviderUnavailable)
		}
		return nil
	}

	// langchaingo refuses to build a client without a token; a missing key
	// is reported by the probe and on Generate instead.
	token := pc.APIKey.Value()
	if token == "" {
		token = "unset"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(pc.Model),
	}
	if pc.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(pc.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, openai.WithHTTPClient(httpClient))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return &ModelClient{name: config.ProviderOpenAI, model: model, probe: credentials}, nil
}

// NewOllamaClient creates a client for a local Ollama server.
func NewOllamaClient(pc config.ProviderConfig, httpClient *http.Client) (*ModelClient, error) {
	if pc.BaseURL == "" || pc.Model == "" {
		return nil, fmt.Errorf("%w: ollama base URL and model required", ErrInvalidConfig)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	model, err := ollama.New(
		ollama.WithModel(pc.Model),
		ollama.WithServerURL(pc.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	base := strings.TrimRight(pc.BaseURL, "/")
	liveness := func(ctx context.Context) error {
		return livenessProbe(ctx, httpClient, base+"/", config.ProviderOllama)
	}
	return &ModelClient{name: config.ProviderOllama, model: model, probe: liveness}, nil
}

// Name implements Client.
func (c *ModelClient) Name() string { return c.name }

// Generate implements Client.
func (c *ModelClient) Generate(ctx context.Context, prompt string, opts Options) (Completion, error) {
	if c.name == config.ProviderOpenAI {
		if err := c.probe(ctx); err != nil {
			return Completion{}, err
		}
	}

	callOpts := []llms.CallOption{llms.WithMaxTokens(opts.MaxTokens)}
	if opts.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*opts.Temperature))
	}
	if len(opts.StopSequences) > 0 {
		callOpts = append(callOpts, llms.WithStopWords(opts.StopSequences))
	}

	resp, err := c.model.GenerateContent(ctx, []llms.MessageContent{{
		Role:  schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(prompt)},
	}}, callOpts...)
	if err != nil {
		return Completion{}, classifyModelError(err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("%w: no choices in response", provider.ErrInvalidResponse)
	}

	choice := resp.Choices[0]
	tokens := usageTokens(choice.GenerationInfo)
	if tokens == 0 {
		tokens = estimateTokens(prompt, choice.Content)
	}
	return Completion{Text: choice.Content, Tokens: tokens}, nil
}

// Probe implements Client.
func (c *ModelClient) Probe(ctx context.Context) error {
	return c.probe(ctx)
}

// usageTokens reads token usage from langchaingo generation info, whose
// keys and value types differ between backends.
func usageTokens(info map[string]any) int {
	if n := toInt(info["TotalTokens"]); n > 0 {
		return n
	}
	return toInt(info["PromptTokens"]) + toInt(info["CompletionTokens"])
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

var statusCodePattern = regexp.MustCompile(`status code:? (\d{3})`)

// classifyModelError maps langchaingo errors, which carry the HTTP status
// only in their message, onto the provider taxonomy.
func classifyModelError(err error) error {
	m := statusCodePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	code, _ := strconv.Atoi(m[1])
	if kind := provider.KindForStatus(code); kind != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return err
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
