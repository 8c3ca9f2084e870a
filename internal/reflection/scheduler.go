package reflection

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scheduler ticks every registered engine on a fixed interval. Engines
// tick in parallel up to a limit; one engine never runs two cycles at
// once because Engine.Tick skips while a cycle is in flight.
//
// Thread Safety: all methods are safe for concurrent use.
type Scheduler struct {
	interval      time.Duration
	maxConcurrent int
	logger        *zap.Logger

	enginesMu sync.RWMutex
	engines   map[string]*Engine

	// mu protects running, stopCh and doneCh.
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the tick interval. Defaults to 5 seconds.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// WithMaxConcurrent bounds how many engines tick at once. Defaults to 8.
func WithMaxConcurrent(n int) SchedulerOption {
	return func(s *Scheduler) { s.maxConcurrent = n }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		interval:      5 * time.Second,
		maxConcurrent: 8,
		logger:        zap.NewNop(),
		engines:       make(map[string]*Engine),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		return nil, fmt.Errorf("%w: scheduler interval must be positive, got %s", ErrInvalidConfig, s.interval)
	}
	if s.maxConcurrent <= 0 {
		return nil, fmt.Errorf("%w: max concurrent must be positive, got %d", ErrInvalidConfig, s.maxConcurrent)
	}
	return s, nil
}

// Register adds an engine under id, replacing any previous one.
func (s *Scheduler) Register(id string, e *Engine) {
	s.enginesMu.Lock()
	defer s.enginesMu.Unlock()
	s.engines[id] = e
}

// Unregister removes the engine under id.
func (s *Scheduler) Unregister(id string) {
	s.enginesMu.Lock()
	defer s.enginesMu.Unlock()
	delete(s.engines, id)
}

// Engines returns the registered ids in sorted order.
func (s *Scheduler) Engines() []string {
	s.enginesMu.RLock()
	defer s.enginesMu.RUnlock()
	ids := make([]string, 0, len(s.engines))
	for id := range s.engines {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// TickAll ticks every registered engine once and waits for them. Failed
// cycles are logged, not returned; they retry on the next tick. It
// returns the completed cycles by engine id, or ctx's error if ctx ends
// first.
func (s *Scheduler) TickAll(ctx context.Context) (map[string][]Cycle, error) {
	s.enginesMu.RLock()
	engines := make(map[string]*Engine, len(s.engines))
	for id, e := range s.engines {
		engines[id] = e
	}
	s.enginesMu.RUnlock()

	var (
		mu  sync.Mutex
		out = make(map[string][]Cycle)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for id, e := range engines {
		g.Go(func() error {
			cycles, err := e.Tick(gctx)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.logger.Debug("engine tick failed", zap.String("agent_id", id), zap.Error(err))
			}
			if len(cycles) > 0 {
				mu.Lock()
				out[id] = cycles
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// Start begins ticking in the background until Stop is called or ctx
// ends. It fails if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	s.logger.Info("reflection scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("max_concurrent", s.maxConcurrent),
	)
	go s.run(ctx, s.stopCh, s.doneCh)
	return nil
}

// Stop halts the scheduler and waits for an in-flight tick to finish. It
// is a no-op when not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info("reflection scheduler stopped")
}

// Running reports whether the scheduler is ticking.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeTick(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.stopCh == stopCh {
				s.running = false
			}
			s.mu.Unlock()
			return
		}
	}
}

// safeTick runs one tick, recovering from panics so the loop survives.
func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("reflection tick panicked, recovering",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	cycles, err := s.TickAll(ctx)
	if err != nil {
		s.logger.Debug("reflection tick interrupted", zap.Error(err))
		return
	}
	for id, cs := range cycles {
		for _, c := range cs {
			s.logger.Debug("reflection cycle ran",
				zap.String("agent_id", id),
				zap.Int("level", c.Level),
				zap.Int("reflections", len(c.Reflections)),
			)
		}
	}
}
