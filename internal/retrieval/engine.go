// Package retrieval ranks memories by a weighted blend of recency,
// importance and semantic relevance to a query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/memory"
	"github.com/fyrsmithlabs/mazemind/internal/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/fyrsmithlabs/mazemind/internal/retrieval"

// ErrInvalidWeights indicates negative or all-zero weights.
var ErrInvalidWeights = errors.New("invalid retrieval weights")

// Embedder turns a query into a vector. On provider exhaustion it returns
// an error wrapping provider.ErrAllProvidersExhausted.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Toucher records that memories were accessed.
type Toucher interface {
	Touch(ids []string, at time.Time) error
}

// Weights scale the three component scores.
type Weights struct {
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
	Relevance  float64 `json:"relevance"`
}

// DefaultWeights weighs every component equally.
func DefaultWeights() Weights {
	return Weights{Recency: 1, Importance: 1, Relevance: 1}
}

func (w Weights) validate() error {
	if w.Recency < 0 || w.Importance < 0 || w.Relevance < 0 {
		return fmt.Errorf("%w: negative weight", ErrInvalidWeights)
	}
	if w.Recency+w.Importance+w.Relevance == 0 {
		return fmt.Errorf("%w: all weights are zero", ErrInvalidWeights)
	}
	return nil
}

// Scored is a memory with its component and composite scores.
type Scored struct {
	Memory     memory.Memory `json:"memory"`
	Recency    float64       `json:"recency"`
	Importance float64       `json:"importance"`
	Relevance  float64       `json:"relevance"`
	Score      float64       `json:"score"`
}

// Result is a ranked list. Degraded is set when relevance could not be
// computed and the ranking used recency and importance alone.
type Result struct {
	Items    []Scored `json:"items"`
	Degraded bool     `json:"degraded"`
}

// Memories returns the ranked memories.
func (r Result) Memories() []memory.Memory {
	out := make([]memory.Memory, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.Memory
	}
	return out
}

// Engine ranks candidate memories against a query. It holds no per-agent
// state and is safe for concurrent use.
type Engine struct {
	embedder Embedder
	weights  Weights
	halfLife time.Duration
	now      func() time.Time
	logger   *zap.Logger
	tracer   trace.Tracer

	degraded atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithWeights sets the component weights.
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithHalfLife sets the time for the recency score to halve. Defaults to
// one hour.
func WithHalfLife(d time.Duration) Option {
	return func(e *Engine) { e.halfLife = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine.
func NewEngine(embedder Embedder, opts ...Option) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	e := &Engine{
		embedder: embedder,
		weights:  DefaultWeights(),
		halfLife: time.Hour,
		now:      time.Now,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.weights.validate(); err != nil {
		return nil, err
	}
	if e.halfLife <= 0 {
		return nil, fmt.Errorf("half-life must be positive, got %s", e.halfLife)
	}
	return e, nil
}

// Weights returns the configured weights.
func (e *Engine) Weights() Weights { return e.weights }

// DegradedCount returns how many rankings fell back to recency and
// importance only.
func (e *Engine) DegradedCount() int64 { return e.degraded.Load() }

// Retrieve ranks candidates against query, keeps the top k and marks them
// accessed now through toucher. The returned copies carry the new access
// time. A nil toucher skips the access update.
func (e *Engine) Retrieve(ctx context.Context, query string, candidates []memory.Memory, k int, toucher Toucher) (Result, error) {
	res, err := e.Rank(ctx, query, candidates, k)
	if err != nil || len(res.Items) == 0 || toucher == nil {
		return res, err
	}

	now := e.now()
	ids := make([]string, len(res.Items))
	for i, it := range res.Items {
		ids[i] = it.Memory.ID
	}
	if err := toucher.Touch(ids, now); err != nil {
		return Result{}, fmt.Errorf("recording access: %w", err)
	}
	for i := range res.Items {
		if now.After(res.Items[i].Memory.LastAccessedAt) {
			res.Items[i].Memory.LastAccessedAt = now
		}
	}
	return res, nil
}

// Rank scores candidates against query and returns the top k, best first.
// It does not record access. Ties go to the more recently accessed memory.
func (e *Engine) Rank(ctx context.Context, query string, candidates []memory.Memory, k int) (Result, error) {
	if len(candidates) == 0 || k <= 0 {
		return Result{Items: []Scored{}}, nil
	}

	ctx, span := e.tracer.Start(ctx, "retrieval.Rank", trace.WithAttributes(
		attribute.Int("retrieval.candidates", len(candidates)),
		attribute.Int("retrieval.k", k),
	))
	defer span.End()

	degraded := false
	var queryVec []float32
	if e.weights.Relevance > 0 {
		vec, err := e.embedder.Embed(ctx, query)
		switch {
		case err == nil:
			queryVec = vec
		case errors.Is(err, provider.ErrAllProvidersExhausted):
			degraded = true
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			degraded = true
		}
	}
	if degraded {
		e.degraded.Add(1)
		provider.DegradedTotal.WithLabelValues("retrieval", "no_query_embedding").Inc()
		span.SetAttributes(attribute.Bool("retrieval.degraded", true))
		e.logger.Warn("query embedding unavailable, ranking by recency and importance")
	}

	now := e.now()
	items := make([]Scored, len(candidates))
	for i, m := range candidates {
		items[i] = e.score(m, queryVec, now, degraded)
	}

	slices.SortStableFunc(items, compareScored)
	if len(items) > k {
		items = items[:k]
	}
	for i := range items {
		items[i].Memory = items[i].Memory.Clone()
	}
	return Result{Items: items, Degraded: degraded}, nil
}

func (e *Engine) score(m memory.Memory, queryVec []float32, now time.Time, degraded bool) Scored {
	s := Scored{
		Memory:     m,
		Recency:    RecencyScore(now.Sub(m.LastAccessedAt), e.halfLife),
		Importance: ImportanceScore(m.Importance),
	}

	sum := e.weights.Recency*s.Recency + e.weights.Importance*s.Importance
	total := e.weights.Recency + e.weights.Importance
	if !degraded && e.weights.Relevance > 0 {
		s.Relevance = RelevanceScore(queryVec, m.Embedding)
		sum += e.weights.Relevance * s.Relevance
		total += e.weights.Relevance
	}
	if total > 0 {
		s.Score = sum / total
	}
	return s
}

func compareScored(a, b Scored) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	if c := b.Memory.LastAccessedAt.Compare(a.Memory.LastAccessedAt); c != 0 {
		return c
	}
	switch {
	case a.Memory.ID < b.Memory.ID:
		return -1
	case a.Memory.ID > b.Memory.ID:
		return 1
	}
	return 0
}

// RecencyScore decays exponentially with elapsed time, halving every
// halfLife. Elapsed times at or below zero score 1.
func RecencyScore(elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	return math.Exp2(-elapsed.Seconds() / halfLife.Seconds())
}

// ImportanceScore maps importance 1..10 onto [0.1, 1].
func ImportanceScore(importance int) float64 {
	return float64(memory.ClampImportance(importance)) / memory.MaxImportance
}

// RelevanceScore maps the cosine similarity of a and b from [-1,1] onto
// [0,1]. Missing or mismatched vectors score a neutral 0.5.
func RelevanceScore(a, b []float32) float64 {
	cos, ok := Cosine(a, b)
	if !ok {
		return 0.5
	}
	return (cos + 1) / 2
}

// Cosine returns the cosine similarity of a and b, clamped to [-1,1]. It
// reports false for empty, zero or mismatched vectors.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return max(-1, min(1, dot/(math.Sqrt(na)*math.Sqrt(nb)))), true
}
