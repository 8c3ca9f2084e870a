package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/provider"
	"go.uber.org/zap"
)

const metricKind = "embedding"

// Service is the embedding provider abstraction. It owns the failover
// state for one session; agents of that session share it.
//
// Calls try the active provider first, then walk the chain in order,
// skipping providers that are unavailable or on a failure streak. The
// first provider that succeeds becomes active. When every provider fails,
// callers receive deterministic fallback vectors together with an error
// wrapping provider.ErrAllProvidersExhausted.
type Service struct {
	chain            []string
	clients          map[string]Client
	gates            map[string]*provider.Gate
	unitCosts        map[string]float64
	cache            *Cache
	tracker          *provider.Tracker
	metrics          *Metrics
	logger           *zap.Logger
	timeout          time.Duration
	failureThreshold int

	mu        sync.RWMutex
	active    string
	dimension int

	fallbackVectors atomic.Int64
	failovers       atomic.Int64

	healthMu sync.Mutex
	health   *provider.HealthChecker
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

// WithTimeout bounds each provider call. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithFailureThreshold sets how many consecutive failures make a provider
// skipped during chain walks until it succeeds or passes a health probe.
// Defaults to 3.
func WithFailureThreshold(n int) Option {
	return func(s *Service) { s.failureThreshold = n }
}

// WithDimension fixes the session dimension. 0 adopts the dimension of the
// first successful provider result.
func WithDimension(d int) Option {
	return func(s *Service) { s.dimension = d }
}

// WithGate bounds calls to the named provider.
func WithGate(name string, g *provider.Gate) Option {
	return func(s *Service) { s.gates[name] = g }
}

// WithUnitCost sets the named provider's price per 1K tokens.
func WithUnitCost(name string, cost float64) Option {
	return func(s *Service) { s.unitCosts[name] = cost }
}

// WithMetrics replaces the OpenTelemetry instruments.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewService creates a service over clients; the first client is the
// primary, the rest form the fallback chain in order.
func NewService(clients []Client, cacheSize int, opts ...Option) (*Service, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("%w: at least one embedding client required", ErrInvalidConfig)
	}
	cache, err := NewCache(cacheSize)
	if err != nil {
		return nil, err
	}

	s := &Service{
		clients:          make(map[string]Client, len(clients)),
		gates:            make(map[string]*provider.Gate),
		unitCosts:        make(map[string]float64),
		cache:            cache,
		logger:           zap.NewNop(),
		timeout:          10 * time.Second,
		failureThreshold: 3,
	}
	for _, c := range clients {
		if _, dup := s.clients[c.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate embedding provider %q", ErrInvalidConfig, c.Name())
		}
		s.clients[c.Name()] = c
		s.chain = append(s.chain, c.Name())
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(s.logger)
	}
	s.tracker = provider.NewTracker(s.chain...)
	s.active = s.chain[0]
	return s, nil
}

// Embed returns the vector for one text. On ErrAllProvidersExhausted the
// returned vector is the deterministic fallback and is still usable.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if len(vectors) == 0 {
		return nil, err
	}
	return vectors[0], err
}

// EmbedBatch returns one vector per text, in input order. Cached texts are
// served from the cache and the remaining unique texts go to providers in a
// single call. On ErrAllProvidersExhausted every slot is still filled, with
// fallback vectors for the texts no provider could embed. Only context
// cancellation yields nil vectors.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	active := s.Active()
	out := make([][]float32, len(texts))
	slots := make(map[string][]int)
	var missing []string
	hits := 0

	for i, t := range texts {
		if v, ok := s.cache.Get(t); ok {
			out[i] = v
			hits++
			s.tracker.RecordHit(active)
			continue
		}
		s.tracker.RecordMiss(active)
		if _, seen := slots[t]; !seen {
			missing = append(missing, t)
		}
		slots[t] = append(slots[t], i)
	}
	s.metrics.RecordCacheLookups(ctx, hits, len(texts)-hits)

	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := s.embedWithFailover(ctx, missing)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		dim := s.fallbackDimension()
		for _, t := range missing {
			v := HashEmbedding(t, dim)
			for _, i := range slots[t] {
				out[i] = v
			}
		}
		s.fallbackVectors.Add(int64(len(missing)))
		s.metrics.RecordFallback(ctx, len(missing))
		provider.DegradedTotal.WithLabelValues("embeddings", "all_providers_exhausted").Add(float64(len(missing)))
		s.logger.Warn("all embedding providers failed, serving fallback vectors",
			zap.Int("texts", len(missing)),
			zap.Error(err),
		)
		return out, fmt.Errorf("%w: %w", provider.ErrAllProvidersExhausted, err)
	}

	for j, t := range missing {
		s.cache.Add(t, vectors[j])
		for _, i := range slots[t] {
			out[i] = vectors[j]
		}
	}
	return out, nil
}

// embedWithFailover tries the active provider, then the rest of the chain.
func (s *Service) embedWithFailover(ctx context.Context, texts []string) ([][]float32, error) {
	active := s.Active()

	var errs []error
	for _, name := range s.attemptOrder(active) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors, err := s.call(ctx, name, texts)
		if err == nil {
			if name != active {
				s.switchActive(active, name)
			}
			return vectors, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: every provider is marked unavailable", provider.ErrProviderUnavailable)
	}
	return nil, errors.Join(errs...)
}

// attemptOrder lists active first, then the chain, leaving out providers
// that are unavailable or on a failure streak.
func (s *Service) attemptOrder(active string) []string {
	order := make([]string, 0, len(s.chain))
	if s.eligible(active) {
		order = append(order, active)
	}
	for _, name := range s.chain {
		if name != active && s.eligible(name) {
			order = append(order, name)
		}
	}
	return order
}

func (s *Service) eligible(name string) bool {
	st, ok := s.tracker.Get(name)
	return ok && st.IsAvailable && st.ConsecutiveFailures < s.failureThreshold
}

// call makes one gated, timed provider call and records its outcome.
func (s *Service) call(ctx context.Context, name string, texts []string) ([][]float32, error) {
	client := s.clients[name]
	start := time.Now()

	batch, err := func() (Batch, error) {
		release, err := s.gates[name].Acquire(ctx)
		if err != nil {
			return Batch{}, err
		}
		defer release()
		return provider.Call(ctx, s.timeout, func(c context.Context) (Batch, error) {
			return client.Embed(c, texts)
		})
	}()
	if err == nil {
		err = s.checkBatch(batch, len(texts))
	}
	latency := time.Since(start)

	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.metrics.RecordCall(ctx, name, "embed", latency, len(texts), err)
	provider.ObserveCall(metricKind, name, err)

	if err != nil {
		err = provider.Wrap(name, "embed", err)
		streak := s.tracker.RecordFailure(name, latency, err)
		s.logger.Warn("embedding provider call failed",
			zap.String("provider", name),
			zap.Int("consecutive_failures", streak),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil, err
	}

	s.tracker.RecordSuccess(name, latency, batch.Tokens, provider.Cost(batch.Tokens, s.unitCosts[name]))
	return batch.Vectors, nil
}

// checkBatch enforces one vector per text and the session dimension,
// locking the dimension on first use.
func (s *Service) checkBatch(b Batch, n int) error {
	if len(b.Vectors) != n {
		return fmt.Errorf("%w: got %d vectors for %d texts", provider.ErrInvalidResponse, len(b.Vectors), n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	if dim == 0 {
		dim = len(b.Vectors[0])
	}
	for _, v := range b.Vectors {
		if len(v) == 0 || len(v) != dim {
			return fmt.Errorf("%w: vector dimension %d, session dimension %d", provider.ErrInvalidResponse, len(v), dim)
		}
	}
	s.dimension = dim
	return nil
}

func (s *Service) switchActive(from, to string) {
	s.mu.Lock()
	switched := s.active == from
	if switched {
		s.active = to
	}
	s.mu.Unlock()

	if !switched {
		return
	}
	s.failovers.Add(1)
	provider.FailoversTotal.WithLabelValues(metricKind, from, to).Inc()
	s.logger.Info("embedding provider failover",
		zap.String("from", from),
		zap.String("to", to),
	)
}

func (s *Service) fallbackDimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dimension > 0 {
		return s.dimension
	}
	return DefaultHashDimension
}

// Active returns the provider tried first on the next call.
func (s *Service) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActive makes name the active provider and clears its failure streak.
func (s *Service) SetActive(name string) error {
	if _, ok := s.clients[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	s.mu.Lock()
	s.active = name
	s.mu.Unlock()
	s.tracker.SetAvailable(name, true, nil)
	return nil
}

// Dimension returns the session dimension, 0 until locked.
func (s *Service) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Cache exposes the shared vector cache.
func (s *Service) Cache() *Cache { return s.cache }

// Stats is a snapshot of the service and its providers.
type Stats struct {
	Active          string           `json:"active"`
	Chain           []string         `json:"chain"`
	Dimension       int              `json:"dimension"`
	CacheSize       int              `json:"cache_size"`
	CacheCapacity   int              `json:"cache_capacity"`
	FallbackVectors int64            `json:"fallback_vectors"`
	Failovers       int64            `json:"failovers"`
	Providers       []provider.Stats `json:"providers"`
}

// Stats returns a snapshot of statistics.
func (s *Service) Stats() Stats {
	return Stats{
		Active:          s.Active(),
		Chain:           append([]string(nil), s.chain...),
		Dimension:       s.Dimension(),
		CacheSize:       s.cache.Len(),
		CacheCapacity:   s.cache.Capacity(),
		FallbackVectors: s.fallbackVectors.Load(),
		Failovers:       s.failovers.Load(),
		Providers:       s.tracker.Snapshot(),
	}
}

// CheckHealth probes every provider once and updates availability.
func (s *Service) CheckHealth(ctx context.Context, timeout time.Duration) map[string]error {
	h, err := s.newHealthChecker(0, timeout)
	if err != nil {
		return nil
	}
	return h.CheckNow(ctx)
}

// StartHealthChecks probes providers every interval until Close.
func (s *Service) StartHealthChecks(ctx context.Context, interval, timeout time.Duration) error {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	if s.health != nil {
		return fmt.Errorf("health checks already running")
	}
	h, err := s.newHealthChecker(interval, timeout)
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}
	s.health = h
	return nil
}

func (s *Service) newHealthChecker(interval, timeout time.Duration) (*provider.HealthChecker, error) {
	probers := make(map[string]provider.Prober, len(s.clients))
	for name, c := range s.clients {
		probers[name] = provider.ProbeFunc(c.Probe)
	}
	opts := []provider.HealthOption{provider.WithHealthLogger(s.logger.Named("health"))}
	if interval > 0 {
		opts = append(opts, provider.WithProbeInterval(interval))
	}
	if timeout > 0 {
		opts = append(opts, provider.WithProbeTimeout(timeout))
	}
	return provider.NewHealthChecker(s.chain, probers, s.onProbe, opts...)
}

func (s *Service) onProbe(name string, err error) {
	s.tracker.SetAvailable(name, err == nil, err)
	provider.ObserveAvailability(metricKind, name, err == nil)
}

// Close stops health checks.
func (s *Service) Close() error {
	s.healthMu.Lock()
	h := s.health
	s.health = nil
	s.healthMu.Unlock()

	if h != nil {
		h.Stop()
	}
	return nil
}
