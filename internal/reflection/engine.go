// Package reflection turns an agent's accumulated memories into
// higher-level insights. When the importance of new memories crosses a
// threshold, or enough time has passed, an Engine asks the language model
// for salient questions, retrieves evidence for each, and synthesizes one
// insight per question. Insights become reflections linked to their
// evidence, and reflections can themselves be reflected on to build a
// tree of increasingly abstract nodes.
package reflection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/config"
	"github.com/fyrsmithlabs/mazemind/internal/llm"
	"github.com/fyrsmithlabs/mazemind/internal/memory"
	"github.com/fyrsmithlabs/mazemind/internal/provider"
	"github.com/fyrsmithlabs/mazemind/internal/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrCycleInProgress indicates a forced cycle while another is running.
	ErrCycleInProgress = errors.New("reflection cycle in progress")

	// ErrNoQuestions indicates a question reply with nothing usable in it.
	ErrNoQuestions = errors.New("no reflection questions generated")

	// ErrInvalidConfig indicates a bad engine configuration.
	ErrInvalidConfig = errors.New("invalid reflection config")
)

// State is the phase of an engine.
type State int32

const (
	StateAccumulating State = iota
	StateQuestionGeneration
	StateAnswerSynthesis
	StateMetaReflection
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateQuestionGeneration:
		return "question_generation"
	case StateAnswerSynthesis:
		return "answer_synthesis"
	case StateMetaReflection:
		return "meta_reflection"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Trigger is the reason a cycle ran.
type Trigger string

const (
	TriggerNone       Trigger = ""
	TriggerImportance Trigger = "importance"
	TriggerInterval   Trigger = "interval"
	TriggerManual     Trigger = "manual"
)

// Ranker ranks candidate memories against a query without recording
// access. *retrieval.Engine satisfies it.
type Ranker interface {
	Rank(ctx context.Context, query string, candidates []memory.Memory, k int) (retrieval.Result, error)
}

// Embedder embeds one text. On provider exhaustion it may return a usable
// vector together with an error wrapping provider.ErrAllProvidersExhausted.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds the cycle triggers and pipeline sizes.
type Config struct {
	Threshold      int
	Interval       time.Duration
	ResetPolicy    memory.ResetPolicy
	QuestionCount  int
	RecentMemories int
	EvidenceK      int
	MetaThreshold  int
	MaxLevel       int
	Temperature    float64
	MaxTokens      int
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Threshold:      150,
		ResetPolicy:    memory.ResetZero,
		QuestionCount:  3,
		RecentMemories: 100,
		EvidenceK:      10,
		MetaThreshold:  150,
		MaxLevel:       3,
		Temperature:    0.5,
		MaxTokens:      160,
	}
}

// ConfigFromSettings converts the reflection configuration section.
func ConfigFromSettings(rc config.ReflectionConfig) Config {
	c := DefaultConfig()
	c.Threshold = rc.Threshold
	c.Interval = rc.Interval.Duration()
	c.ResetPolicy = memory.ResetPolicy(rc.ResetPolicy)
	c.QuestionCount = rc.QuestionCount
	c.RecentMemories = rc.RecentMemories
	c.EvidenceK = rc.EvidenceK
	c.MetaThreshold = rc.MetaThreshold
	c.MaxLevel = rc.MaxLevel
	if rc.Temperature != nil {
		c.Temperature = *rc.Temperature
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if c.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("threshold must be positive, got %d", c.Threshold))
	}
	if c.MetaThreshold <= 0 {
		errs = append(errs, fmt.Errorf("meta threshold must be positive, got %d", c.MetaThreshold))
	}
	if c.Interval < 0 {
		errs = append(errs, fmt.Errorf("interval must not be negative, got %s", c.Interval))
	}
	if c.ResetPolicy != memory.ResetZero && c.ResetPolicy != memory.ResetResidual {
		errs = append(errs, fmt.Errorf("unknown reset policy %q", c.ResetPolicy))
	}
	if c.QuestionCount <= 0 || c.RecentMemories <= 0 || c.EvidenceK <= 0 {
		errs = append(errs, errors.New("question count, recent memories and evidence k must be positive"))
	}
	if c.MaxLevel < 1 {
		errs = append(errs, fmt.Errorf("max level must be at least 1, got %d", c.MaxLevel))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Cycle is the outcome of one successful reflection cycle.
type Cycle struct {
	Level       int             `json:"level"`
	Trigger     Trigger         `json:"trigger"`
	Questions   []string        `json:"questions"`
	Reflections []memory.Memory `json:"reflections"`
	Duration    time.Duration   `json:"duration"`
}

// Stats summarizes an engine's history.
type Stats struct {
	AgentID        string    `json:"agent_id"`
	State          string    `json:"state"`
	Cycles         int64     `json:"cycles"`
	Failures       int64     `json:"failures"`
	Reflections    int64     `json:"reflections"`
	LastError      string    `json:"last_error,omitempty"`
	LastReflection time.Time `json:"last_reflection"`
}

// Engine runs reflection cycles for one agent. Cycles never overlap; a
// failed cycle commits nothing and leaves the accumulators as they were,
// so the next tick retries.
type Engine struct {
	store      *memory.Store
	gen        Generator
	ranker     Ranker
	embedder   Embedder
	classifier *Classifier
	cfg        Config
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    *Metrics
	now        func() time.Time

	run   sync.Mutex
	state atomic.Int32

	mu             sync.Mutex
	lastReflection time.Time
	stats          Stats
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the triggers and pipeline sizes.
func WithConfig(c Config) Option {
	return func(e *Engine) { e.cfg = c }
}

// WithClassifier replaces the default classifier chain.
func WithClassifier(c *Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMetrics sets the instruments.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer for cycle spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewEngine creates an engine over store. The interval trigger counts from
// creation.
func NewEngine(store *memory.Store, gen Generator, ranker Ranker, embedder Embedder, opts ...Option) (*Engine, error) {
	if store == nil || gen == nil || ranker == nil || embedder == nil {
		return nil, fmt.Errorf("%w: store, generator, ranker and embedder are required", ErrInvalidConfig)
	}
	e := &Engine{
		store:    store,
		gen:      gen,
		ranker:   ranker,
		embedder: embedder,
		cfg:      DefaultConfig(),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.validate(); err != nil {
		return nil, err
	}
	if e.cfg.MaxTokens <= 0 {
		e.cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if e.classifier == nil {
		e.classifier = NewDefaultClassifier(gen, e.logger)
	}
	e.logger = e.logger.With(zap.String("agent_id", store.AgentID()))
	e.lastReflection = e.now()
	e.stats.AgentID = store.AgentID()
	return e, nil
}

// State returns the current phase.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

// Config returns the engine settings.
func (e *Engine) Config() Config { return e.cfg }

// Due reports which trigger, if any, calls for a level-1 cycle now.
func (e *Engine) Due() Trigger {
	if e.store.Accumulator(0) >= e.cfg.Threshold {
		return TriggerImportance
	}
	if e.cfg.Interval > 0 {
		e.mu.Lock()
		last := e.lastReflection
		e.mu.Unlock()
		if e.now().Sub(last) >= e.cfg.Interval {
			return TriggerInterval
		}
	}
	return TriggerNone
}

// Tick runs whatever cycles are due: a level-1 cycle if a trigger fired,
// then a meta cycle for every level whose accumulator crossed the meta
// threshold. It returns at once if a cycle is already running.
func (e *Engine) Tick(ctx context.Context) ([]Cycle, error) {
	if !e.run.TryLock() {
		return nil, nil
	}
	defer e.run.Unlock()

	var cycles []Cycle
	if trig := e.Due(); trig != TriggerNone {
		c, err := e.cycle(ctx, 1, trig)
		if err != nil {
			return cycles, err
		}
		if c != nil {
			cycles = append(cycles, *c)
		}
	}
	for level := 2; level <= e.cfg.MaxLevel; level++ {
		if e.store.Accumulator(level-1) < e.cfg.MetaThreshold {
			continue
		}
		c, err := e.cycle(ctx, level, TriggerImportance)
		if err != nil {
			return cycles, err
		}
		if c != nil {
			cycles = append(cycles, *c)
		}
	}
	return cycles, nil
}

// Reflect forces a level-1 cycle regardless of triggers.
func (e *Engine) Reflect(ctx context.Context) (Cycle, error) {
	if !e.run.TryLock() {
		return Cycle{}, ErrCycleInProgress
	}
	defer e.run.Unlock()

	c, err := e.cycle(ctx, 1, TriggerManual)
	if err != nil {
		return Cycle{}, err
	}
	if c == nil {
		return Cycle{Level: 1, Trigger: TriggerManual, Questions: []string{}, Reflections: []memory.Memory{}}, nil
	}
	return *c, nil
}

func isRaw(m memory.Memory) bool { return !m.IsReflection() }

// cycle produces level-`level` reflections. A nil cycle with a nil error
// means there was nothing to reflect on.
func (e *Engine) cycle(ctx context.Context, level int, trig Trigger) (*Cycle, error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "reflection.cycle", trace.WithAttributes(
		attribute.String("agent_id", e.store.AgentID()),
		attribute.Int("reflection.level", level),
		attribute.String("reflection.trigger", string(trig)),
	))
	defer span.End()
	defer e.setState(StateAccumulating)

	// Importance recorded after this read belongs to the next cycle.
	consumed := e.store.Accumulator(level - 1)
	var recent, pool []memory.Memory
	threshold := e.cfg.Threshold
	if level == 1 {
		e.setState(StateQuestionGeneration)
		recent = e.store.Recent(e.cfg.RecentMemories, isRaw)
		pool = e.store.Filter(isRaw)
	} else {
		e.setState(StateMetaReflection)
		threshold = e.cfg.MetaThreshold
		recent = e.store.Recent(e.cfg.RecentMemories, func(m memory.Memory) bool {
			return m.IsReflection() && m.Level == level-1
		})
		pool = e.store.Filter(func(m memory.Memory) bool {
			return m.IsReflection() && m.Level < level
		})
	}
	if len(recent) == 0 {
		if level == 1 {
			e.markReflected(e.now())
		}
		return nil, nil
	}

	questions, err := e.questions(ctx, recent)
	if err != nil {
		return nil, e.fail(ctx, span, level, start, fmt.Errorf("generating questions: %w", err))
	}

	if level == 1 {
		e.setState(StateAnswerSynthesis)
	}
	pending := make([]memory.Memory, 0, len(questions))
	var touched []string
	for _, q := range questions {
		r, err := e.synthesize(ctx, level, q, pool)
		if err != nil {
			return nil, e.fail(ctx, span, level, start, fmt.Errorf("answering %q: %w", q, err))
		}
		if r == nil {
			continue
		}
		pending = append(pending, *r)
		for _, id := range r.EvidenceIDs {
			if !slices.Contains(touched, id) {
				touched = append(touched, id)
			}
		}
	}

	committed, err := e.store.Commit(memory.Commit{
		Append:  pending,
		Touch:   touched,
		TouchAt: e.now(),
		Consume: &memory.Consume{Level: level - 1, Amount: consumed, Threshold: threshold, Policy: e.cfg.ResetPolicy},
	})
	if err != nil {
		return nil, e.fail(ctx, span, level, start, fmt.Errorf("committing reflections: %w", err))
	}

	end := e.now()
	if level == 1 {
		e.markReflected(end)
	}
	e.mu.Lock()
	e.stats.Cycles++
	e.stats.Reflections += int64(len(committed))
	e.mu.Unlock()

	d := end.Sub(start)
	e.metrics.recordCycle(ctx, level, "ok", len(committed), d)
	span.SetAttributes(attribute.Int("reflection.created", len(committed)))
	e.logger.Info("reflection cycle complete",
		zap.Int("level", level),
		zap.String("trigger", string(trig)),
		zap.Int("reflections", len(committed)),
		zap.Duration("duration", d),
	)
	return &Cycle{Level: level, Trigger: trig, Questions: questions, Reflections: committed, Duration: d}, nil
}

func (e *Engine) questions(ctx context.Context, recent []memory.Memory) ([]string, error) {
	reply, err := e.gen.Generate(ctx, buildQuestionPrompt(recent, e.cfg.QuestionCount), llm.Options{
		Temperature: llm.Float(e.cfg.Temperature),
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	qs := parseQuestions(reply, e.cfg.QuestionCount)
	if len(qs) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoQuestions, provider.ErrInvalidResponse)
	}
	return qs, nil
}

// synthesize answers one question from the best evidence in pool. It
// returns nil when pool holds no evidence.
func (e *Engine) synthesize(ctx context.Context, level int, question string, pool []memory.Memory) (*memory.Memory, error) {
	res, err := e.ranker.Rank(ctx, question, pool, e.cfg.EvidenceK)
	if err != nil {
		return nil, fmt.Errorf("retrieving evidence: %w", err)
	}
	if len(res.Items) == 0 {
		return nil, nil
	}

	reply, err := e.gen.Generate(ctx, buildInsightPrompt(question, res.Memories()), llm.Options{
		Temperature: llm.Float(e.cfg.Temperature),
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	insight := cleanInsight(reply)
	if insight == "" {
		return nil, fmt.Errorf("%w: empty insight", provider.ErrInvalidResponse)
	}

	category := memory.CategoryMeta
	if level == 1 {
		cl, err := e.classifier.Classify(ctx, insight)
		if err != nil {
			return nil, err
		}
		category = cl.Category
	}

	vec, err := e.embedder.Embed(ctx, insight)
	if err != nil && !errors.Is(err, provider.ErrAllProvidersExhausted) {
		return nil, fmt.Errorf("embedding insight: %w", err)
	}

	ids := make([]string, len(res.Items))
	var sum float64
	top := 0
	for i, it := range res.Items {
		ids[i] = it.Memory.ID
		sum += it.Score
		top = max(top, it.Memory.Level)
	}

	return &memory.Memory{
		Kind:        memory.KindReflection,
		Level:       top + 1,
		Text:        insight,
		Question:    question,
		Category:    category,
		Importance:  HeuristicImportance(insight),
		Confidence:  max(0, min(1, sum/float64(len(res.Items)))),
		EvidenceIDs: ids,
		Embedding:   vec,
	}, nil
}

func (e *Engine) fail(ctx context.Context, span trace.Span, level int, start time.Time, err error) error {
	err = fmt.Errorf("reflection cycle aborted at level %d: %w", level, err)

	e.mu.Lock()
	e.stats.Failures++
	e.stats.LastError = err.Error()
	e.mu.Unlock()

	span.RecordError(err)
	span.SetStatus(codes.Error, "cycle aborted")
	e.metrics.recordCycle(ctx, level, "aborted", 0, e.now().Sub(start))
	provider.DegradedTotal.WithLabelValues("reflection", "cycle_aborted").Inc()

	if errors.Is(err, llm.ErrHeuristicMode) {
		e.logger.Debug("reflection skipped in heuristic mode", zap.Int("level", level))
	} else {
		e.logger.Warn("reflection cycle aborted", zap.Int("level", level), zap.Error(err))
	}
	return err
}

func (e *Engine) markReflected(at time.Time) {
	e.mu.Lock()
	e.lastReflection = at
	e.stats.LastReflection = at
	e.mu.Unlock()
}

// Stats returns a snapshot of the engine's history.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	st.State = e.State().String()
	return st
}
