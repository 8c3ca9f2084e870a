package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/config"
	"github.com/fyrsmithlabs/mazemind/internal/provider"
	"go.uber.org/zap"
)

const metricKind = "llm"

// Service is the LLM provider abstraction for one session. Generate always
// uses the active provider; switching is explicit.
type Service struct {
	order     []string
	clients   map[string]Client
	gates     map[string]*provider.Gate
	unitCosts map[string]float64
	tracker   *provider.Tracker
	logger    *zap.Logger

	timeout       time.Duration
	healthTimeout time.Duration
	maxRetries    int
	backoff       time.Duration
	defaults      Options

	mu     sync.RWMutex
	active string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeout bounds each generation attempt. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithHealthTimeout bounds availability checks. Defaults to 5s.
func WithHealthTimeout(d time.Duration) Option {
	return func(s *Service) { s.healthTimeout = d }
}

// WithRetries retries rate-limited and timed-out attempts up to n times,
// doubling the wait from backoff each time.
func WithRetries(n int, backoff time.Duration) Option {
	return func(s *Service) {
		s.maxRetries = n
		s.backoff = backoff
	}
}

// WithDefaults sets the options used for zero fields of a request.
func WithDefaults(o Options) Option {
	return func(s *Service) { s.defaults = o }
}

// WithGate bounds calls to the named provider.
func WithGate(name string, g *provider.Gate) Option {
	return func(s *Service) { s.gates[name] = g }
}

// WithUnitCost sets the named provider's price per 1K tokens.
func WithUnitCost(name string, cost float64) Option {
	return func(s *Service) { s.unitCosts[name] = cost }
}

// NewService creates a service over clients in cycling order, with active
// as the initial provider. The initial provider is not probed.
func NewService(clients []Client, active string, opts ...Option) (*Service, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("%w: at least one llm client required", ErrInvalidConfig)
	}
	s := &Service{
		clients:       make(map[string]Client, len(clients)),
		gates:         make(map[string]*provider.Gate),
		unitCosts:     make(map[string]float64),
		logger:        zap.NewNop(),
		timeout:       30 * time.Second,
		healthTimeout: 5 * time.Second,
		backoff:       time.Second,
		defaults:      Options{Temperature: Float(0.7), MaxTokens: 512},
	}
	for _, c := range clients {
		if _, dup := s.clients[c.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate llm provider %q", ErrInvalidConfig, c.Name())
		}
		s.clients[c.Name()] = c
		s.order = append(s.order, c.Name())
	}
	if active == "" {
		active = s.order[0]
	}
	if _, ok := s.clients[active]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, active)
	}
	s.active = active
	for _, opt := range opts {
		opt(s)
	}
	s.tracker = provider.NewTracker(s.order...)
	return s, nil
}

// Generate produces text from prompt with the active provider. Rate-limited
// and timed-out attempts are retried with exponential backoff. A call that
// still fails returns an error wrapping provider.ErrAllProvidersExhausted
// and the failure kind. The heuristic provider fails at once with
// ErrHeuristicMode.
func (s *Service) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	name := s.Active()
	client := s.clients[name]
	opts = s.merge(opts)

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			wait := s.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := s.attempt(ctx, name, client, prompt, opts)
		if err == nil {
			return text, nil
		}
		if errors.Is(err, ErrHeuristicMode) {
			provider.DegradedTotal.WithLabelValues("llm", "heuristic_mode").Inc()
			return "", err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		lastErr = err
		if !provider.Retryable(err) {
			break
		}
		s.logger.Debug("retrying generation",
			zap.String("provider", name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	provider.DegradedTotal.WithLabelValues("llm", "generation_failed").Inc()
	return "", fmt.Errorf("%w: %s: %w", provider.ErrAllProvidersExhausted, name, lastErr)
}

func (s *Service) attempt(ctx context.Context, name string, client Client, prompt string, opts Options) (string, error) {
	start := time.Now()

	comp, err := func() (Completion, error) {
		release, err := s.gates[name].Acquire(ctx)
		if err != nil {
			return Completion{}, err
		}
		defer release()
		return provider.Call(ctx, s.timeout, func(c context.Context) (Completion, error) {
			return client.Generate(c, prompt, opts)
		})
	}()
	if errors.Is(err, ErrHeuristicMode) {
		return "", err
	}
	if err == nil && strings.TrimSpace(comp.Text) == "" {
		err = fmt.Errorf("%w: empty completion", provider.ErrInvalidResponse)
	}
	latency := time.Since(start)

	if err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}
	provider.ObserveCall(metricKind, name, err)
	if err != nil {
		err = provider.Wrap(name, "generate", err)
		s.tracker.RecordFailure(name, latency, err)
		s.logger.Warn("llm generation failed",
			zap.String("provider", name),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return "", err
	}

	if comp.Tokens == 0 {
		comp.Tokens = estimateTokens(prompt, comp.Text)
	}
	s.tracker.RecordSuccess(name, latency, comp.Tokens, provider.Cost(comp.Tokens, s.unitCosts[name]))
	return strings.TrimSpace(comp.Text), nil
}

func (s *Service) merge(o Options) Options {
	if o.Temperature == nil {
		o.Temperature = s.defaults.Temperature
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = s.defaults.MaxTokens
	}
	if o.StopSequences == nil {
		o.StopSequences = s.defaults.StopSequences
	}
	return o
}

// Active returns the active provider name.
func (s *Service) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Heuristic reports whether the active provider is the heuristic mode.
func (s *Service) Heuristic() bool {
	return s.Active() == config.ProviderHeuristic
}

// Providers returns the cycling order.
func (s *Service) Providers() []string {
	return append([]string(nil), s.order...)
}

// SetProvider makes name active if it passes its availability check.
func (s *Service) SetProvider(ctx context.Context, name string) error {
	if _, ok := s.clients[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	if err := s.check(ctx, name); err != nil {
		return err
	}

	s.mu.Lock()
	from := s.active
	s.active = name
	s.mu.Unlock()

	if from != name {
		provider.FailoversTotal.WithLabelValues(metricKind, from, name).Inc()
		s.logger.Info("llm provider switched", zap.String("from", from), zap.String("to", name))
	}
	return nil
}

// CycleProvider advances to the next provider in order that passes its
// availability check and returns its name. If none does, the active
// provider is unchanged and the error wraps ErrAllProvidersExhausted.
func (s *Service) CycleProvider(ctx context.Context) (string, error) {
	from := s.Active()
	start := 0
	for i, n := range s.order {
		if n == from {
			start = i
			break
		}
	}

	var errs []error
	for i := 1; i <= len(s.order); i++ {
		name := s.order[(start+i)%len(s.order)]
		if name == from {
			continue
		}
		if err := s.check(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}

		s.mu.Lock()
		switched := s.active == from
		if switched {
			s.active = name
		}
		current := s.active
		s.mu.Unlock()

		if !switched {
			return current, nil
		}
		provider.FailoversTotal.WithLabelValues(metricKind, from, name).Inc()
		s.logger.Info("llm provider cycled", zap.String("from", from), zap.String("to", name))
		return name, nil
	}
	return from, fmt.Errorf("%w: %w", provider.ErrAllProvidersExhausted, errors.Join(errs...))
}

// check probes one provider under the health timeout and records the
// result.
func (s *Service) check(ctx context.Context, name string) error {
	_, err := provider.Call(ctx, s.healthTimeout, func(c context.Context) (struct{}, error) {
		return struct{}{}, s.clients[name].Probe(c)
	})
	if err != nil {
		err = provider.Wrap(name, "probe", err)
	}
	s.tracker.SetAvailable(name, err == nil, err)
	provider.ObserveAvailability(metricKind, name, err == nil)
	return err
}

// CheckHealth probes every provider once.
func (s *Service) CheckHealth(ctx context.Context) map[string]error {
	out := make(map[string]error, len(s.order))
	for _, name := range s.order {
		out[name] = s.check(ctx, name)
	}
	return out
}

// Stats is a snapshot of the service and its providers.
type Stats struct {
	Active    string           `json:"active"`
	Order     []string         `json:"order"`
	Providers []provider.Stats `json:"providers"`
}

// Stats returns a snapshot of statistics.
func (s *Service) Stats() Stats {
	return Stats{
		Active:    s.Active(),
		Order:     s.Providers(),
		Providers: s.tracker.Snapshot(),
	}
}
