package agent

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/embeddings"
	"github.com/fyrsmithlabs/mazemind/internal/llm"
	"github.com/fyrsmithlabs/mazemind/internal/memory"
	"github.com/fyrsmithlabs/mazemind/internal/reflection"
	"github.com/fyrsmithlabs/mazemind/internal/services"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Runtime owns the services of one session and the agents sharing them.
type Runtime struct {
	reg       services.Registry
	estimator *reflection.ImportanceEstimator
	metrics   *reflection.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	agents map[string]*Agent
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock sets the time source for agent stores and engines.
func WithClock(now func() time.Time) RuntimeOption {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
		}
	}
}

// WithImportanceEstimator replaces the estimator used for observations
// recorded with importance 0.
func WithImportanceEstimator(e *reflection.ImportanceEstimator) RuntimeOption {
	return func(r *Runtime) { r.estimator = e }
}

// WithReflectionMetrics sets the instruments shared by reflection engines.
func WithReflectionMetrics(m *reflection.Metrics) RuntimeOption {
	return func(r *Runtime) { r.metrics = m }
}

// WithTracer sets the tracer for reflection cycle spans.
func WithTracer(t trace.Tracer) RuntimeOption {
	return func(r *Runtime) { r.tracer = t }
}

// NewRuntime creates a runtime over reg. The registry must provide
// embedding, LLM, retrieval and scheduler services.
func NewRuntime(reg services.Registry, opts ...RuntimeOption) (*Runtime, error) {
	if reg == nil || reg.Embeddings() == nil || reg.LLM() == nil || reg.Retrieval() == nil || reg.Scheduler() == nil {
		return nil, fmt.Errorf("runtime requires embedding, llm, retrieval and scheduler services")
	}
	r := &Runtime{
		reg:    reg,
		logger: zap.NewNop(),
		now:    time.Now,
		agents: make(map[string]*Agent),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.estimator == nil {
		r.estimator = reflection.NewDefaultImportanceEstimator(reg.LLM(), r.logger.Named("importance"))
	}
	return r, nil
}

// Spawn creates an agent with an empty memory and registers it with the
// reflection scheduler.
func (r *Runtime) Spawn(id string) (*Agent, error) {
	if !idPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAgentID, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentExists, id)
	}

	logger := r.logger.With(zap.String("agent_id", id))
	store := memory.NewStore(id, memory.WithClock(r.now))
	engine, err := reflection.NewEngine(store, r.reg.LLM(), r.reg.Retrieval(), r.reg.Embeddings(),
		reflection.WithConfig(r.reg.Reflection()),
		reflection.WithLogger(logger.Named("reflection")),
		reflection.WithClock(r.now),
		reflection.WithMetrics(r.metrics),
		reflection.WithTracer(r.tracer),
	)
	if err != nil {
		return nil, fmt.Errorf("creating reflection engine for %s: %w", id, err)
	}

	a := &Agent{
		id:        id,
		store:     store,
		embedder:  r.reg.Embeddings(),
		retriever: r.reg.Retrieval(),
		reflector: engine,
		estimator: r.estimator,
		logger:    logger,
	}
	r.agents[id] = a
	r.reg.Scheduler().Register(id, engine)
	r.logger.Info("agent spawned", zap.String("agent_id", id))
	return a, nil
}

// Agent returns a spawned agent.
func (r *Runtime) Agent(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a, nil
}

// Agents returns the spawned agent ids in sorted order.
func (r *Runtime) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Remove drops an agent and its memory.
func (r *Runtime) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	delete(r.agents, id)
	r.reg.Scheduler().Unregister(id)
	return nil
}

// Tick runs due reflection cycles for every agent concurrently and
// returns the completed cycles by agent id.
func (r *Runtime) Tick(ctx context.Context) (map[string][]reflection.Cycle, error) {
	return r.reg.Scheduler().TickAll(ctx)
}

// Start begins background reflection ticks and embedding health probes.
func (r *Runtime) Start(ctx context.Context) error {
	return r.reg.Start(ctx)
}

// Close stops background work and releases the session services.
func (r *Runtime) Close() error {
	return r.reg.Close()
}

// LLM returns the session's language model service.
func (r *Runtime) LLM() *llm.Service { return r.reg.LLM() }

// Embeddings returns the session's embedding service.
func (r *Runtime) Embeddings() *embeddings.Service { return r.reg.Embeddings() }

// RuntimeStats is a snapshot of the session.
type RuntimeStats struct {
	Agents             []Stats          `json:"agents"`
	Embeddings         embeddings.Stats `json:"embeddings"`
	LLM                llm.Stats        `json:"llm"`
	DegradedRetrievals int64            `json:"degraded_retrievals"`
	SchedulerRunning   bool             `json:"scheduler_running"`
}

// Stats returns a snapshot of the session.
func (r *Runtime) Stats() RuntimeStats {
	st := RuntimeStats{
		Agents:             []Stats{},
		Embeddings:         r.reg.Embeddings().Stats(),
		LLM:                r.reg.LLM().Stats(),
		DegradedRetrievals: r.reg.Retrieval().DegradedCount(),
		SchedulerRunning:   r.reg.Scheduler().Running(),
	}
	for _, id := range r.Agents() {
		if a, err := r.Agent(id); err == nil {
			st.Agents = append(st.Agents, a.Stats())
		}
	}
	return st
}
