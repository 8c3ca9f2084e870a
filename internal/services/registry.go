package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/config"
	"github.com/fyrsmithlabs/mazemind/internal/embeddings"
	"github.com/fyrsmithlabs/mazemind/internal/llm"
	"github.com/fyrsmithlabs/mazemind/internal/reflection"
	"github.com/fyrsmithlabs/mazemind/internal/retrieval"
	"go.uber.org/zap"
)

// Registry provides access to the session services.
type Registry interface {
	Embeddings() *embeddings.Service
	LLM() *llm.Service
	Retrieval() *retrieval.Engine
	Scheduler() *reflection.Scheduler
	Reflection() reflection.Config
	// Start begins background work: periodic embedding health probes and
	// reflection ticks. Close stops both.
	Start(ctx context.Context) error
	Close() error
}

// Options configures the registry with service instances.
type Options struct {
	Embeddings *embeddings.Service
	LLM        *llm.Service
	Retrieval  *retrieval.Engine
	Scheduler  *reflection.Scheduler
	Reflection reflection.Config
	// HealthInterval enables periodic embedding probes when positive.
	HealthInterval time.Duration
	HealthTimeout  time.Duration
}

// registry is the concrete implementation of Registry.
type registry struct {
	embeddings     *embeddings.Service
	llm            *llm.Service
	retrieval      *retrieval.Engine
	scheduler      *reflection.Scheduler
	reflection     reflection.Config
	healthInterval time.Duration
	healthTimeout  time.Duration
}

// NewRegistry creates a registry over prebuilt services.
func NewRegistry(opts Options) Registry {
	return &registry{
		embeddings:     opts.Embeddings,
		llm:            opts.LLM,
		retrieval:      opts.Retrieval,
		scheduler:      opts.Scheduler,
		reflection:     opts.Reflection,
		healthInterval: opts.HealthInterval,
		healthTimeout:  opts.HealthTimeout,
	}
}

// BuildOption adjusts NewFromConfig.
type BuildOption func(*buildOptions)

type buildOptions struct {
	llmClients []llm.Client
	now        func() time.Time
}

// WithClock sets the retrieval engine's time source. It must match the
// clock the agent runtime stamps memories with.
func WithClock(now func() time.Time) BuildOption {
	return func(o *buildOptions) { o.now = now }
}

// WithLLMClients builds the LLM service over clients instead of the
// configured providers. The first client starts active.
func WithLLMClients(clients ...llm.Client) BuildOption {
	return func(o *buildOptions) { o.llmClients = clients }
}

// NewFromConfig builds every session service from cfg.
func NewFromConfig(cfg *config.Config, logger *zap.Logger, opts ...BuildOption) (Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	emb, err := embeddings.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedding service: %w", err)
	}
	var gen *llm.Service
	if len(bo.llmClients) > 0 {
		lo := []llm.Option{llm.WithLogger(logger.Named("llm"))}
		if d := cfg.LLM.Timeout.Duration(); d > 0 {
			lo = append(lo, llm.WithTimeout(d))
		}
		gen, err = llm.NewService(bo.llmClients, bo.llmClients[0].Name(), lo...)
	} else {
		gen, err = llm.NewFromConfig(cfg, logger)
	}
	if err != nil {
		return nil, errors.Join(fmt.Errorf("creating llm service: %w", err), emb.Close())
	}

	rc := cfg.Retrieval
	ret, err := retrieval.NewEngine(emb,
		retrieval.WithWeights(retrieval.Weights{
			Recency:    rc.Weights.Recency,
			Importance: rc.Weights.Importance,
			Relevance:  rc.Weights.Relevance,
		}),
		retrieval.WithHalfLife(rc.HalfLife.Duration()),
		retrieval.WithLogger(logger.Named("retrieval")),
		retrieval.WithClock(bo.now),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("creating retrieval engine: %w", err), emb.Close())
	}

	rf := cfg.Reflection
	sched, err := reflection.NewScheduler(
		reflection.WithInterval(rf.CheckInterval.Duration()),
		reflection.WithMaxConcurrent(rf.MaxConcurrentAgents),
		reflection.WithSchedulerLogger(logger.Named("reflection")),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("creating reflection scheduler: %w", err), emb.Close())
	}

	return NewRegistry(Options{
		Embeddings: emb,
		LLM:        gen,
		Retrieval:  ret,
		Scheduler:  sched,
		Reflection: reflection.ConfigFromSettings(rf),

		HealthInterval: cfg.Embeddings.HealthInterval.Duration(),
		HealthTimeout:  cfg.Embeddings.HealthTimeout.Duration(),
	}), nil
}

func (r *registry) Embeddings() *embeddings.Service   { return r.embeddings }
func (r *registry) LLM() *llm.Service                 { return r.llm }
func (r *registry) Retrieval() *retrieval.Engine      { return r.retrieval }
func (r *registry) Scheduler() *reflection.Scheduler  { return r.scheduler }
func (r *registry) Reflection() reflection.Config     { return r.reflection }

func (r *registry) Start(ctx context.Context) error {
	if r.embeddings != nil && r.healthInterval > 0 {
		if err := r.embeddings.StartHealthChecks(ctx, r.healthInterval, r.healthTimeout); err != nil {
			return fmt.Errorf("starting embedding health checks: %w", err)
		}
	}
	if r.scheduler != nil {
		if err := r.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("starting reflection scheduler: %w", err)
		}
	}
	return nil
}

// Close stops the scheduler and the embedding health checks.
func (r *registry) Close() error {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
	if r.embeddings != nil {
		return r.embeddings.Close()
	}
	return nil
}
