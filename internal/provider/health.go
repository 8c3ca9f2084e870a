package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Prober checks whether a provider can currently serve requests. Local
// servers answer a liveness request; cloud services check credentials.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) error

// Probe implements Prober.
func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// HealthChecker periodically probes a set of providers and reports each
// result to a callback. Probes of one round run concurrently, each under
// its own timeout.
//
// Start and Stop are idempotent and safe for concurrent use.
type HealthChecker struct {
	names    []string
	probers  map[string]Prober
	onResult func(name string, err error)

	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// HealthOption configures a HealthChecker.
type HealthOption func(*HealthChecker)

// WithProbeInterval sets the time between probe rounds. Defaults to 30s.
func WithProbeInterval(d time.Duration) HealthOption {
	return func(h *HealthChecker) { h.interval = d }
}

// WithProbeTimeout sets the per-probe timeout. Defaults to 5s.
func WithProbeTimeout(d time.Duration) HealthOption {
	return func(h *HealthChecker) { h.timeout = d }
}

// WithHealthLogger sets the logger.
func WithHealthLogger(l *zap.Logger) HealthOption {
	return func(h *HealthChecker) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHealthChecker creates a checker over probers, probed in names order.
func NewHealthChecker(names []string, probers map[string]Prober, onResult func(string, error), opts ...HealthOption) (*HealthChecker, error) {
	if onResult == nil {
		return nil, fmt.Errorf("onResult callback cannot be nil")
	}
	for _, n := range names {
		if probers[n] == nil {
			return nil, fmt.Errorf("no prober registered for %q", n)
		}
	}
	h := &HealthChecker{
		names:    names,
		probers:  probers,
		onResult: onResult,
		interval: 30 * time.Second,
		timeout:  5 * time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// CheckNow runs one probe round and returns each provider's result.
func (h *HealthChecker) CheckNow(ctx context.Context) map[string]error {
	var mu sync.Mutex
	results := make(map[string]error, len(h.names))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range h.names {
		g.Go(func() error {
			_, err := Call(gctx, h.timeout, func(c context.Context) (struct{}, error) {
				return struct{}{}, h.probers[name].Probe(c)
			})
			mu.Lock()
			results[name] = err
			mu.Unlock()
			h.onResult(name, err)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Start begins periodic probing. It returns an error if already running.
func (h *HealthChecker) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return fmt.Errorf("health checker is already running")
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})

	h.logger.Info("provider health checks started",
		zap.Strings("providers", h.names),
		zap.Duration("interval", h.interval),
	)
	go h.run(ctx, h.stopCh, h.doneCh)
	return nil
}

// Stop halts probing and waits for an in-flight round to finish.
func (h *HealthChecker) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopCh)
	done := h.doneCh
	h.mu.Unlock()

	<-done
	h.logger.Info("provider health checks stopped")
}

func (h *HealthChecker) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.safeCheck(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

func (h *HealthChecker) safeCheck(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("health probe panicked, recovering",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	for name, err := range h.CheckNow(ctx) {
		if err != nil {
			h.logger.Debug("provider probe failed", zap.String("provider", name), zap.Error(err))
		}
	}
}
