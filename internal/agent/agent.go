// Package agent is the entry point for simulated agents. An Agent records
// what it observes and plans, retrieves the memories most useful for a
// query, and reflects on its experience through a reflection engine. A
// Runtime owns the services shared by every agent in a session.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/mazemind/internal/memory"
	"github.com/fyrsmithlabs/mazemind/internal/provider"
	"github.com/fyrsmithlabs/mazemind/internal/reflection"
	"github.com/fyrsmithlabs/mazemind/internal/retrieval"
	"go.uber.org/zap"
)

var (
	// ErrEmptyText indicates a record or query with no text.
	ErrEmptyText = errors.New("text is required")

	// ErrAgentNotFound indicates an unknown agent id.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentExists indicates a spawn with an id already in use.
	ErrAgentExists = errors.New("agent already exists")

	// ErrInvalidAgentID indicates an id that is empty or has characters
	// outside letters, digits, dot, hyphen and underscore.
	ErrInvalidAgentID = errors.New("invalid agent id: must be alphanumeric with dots, hyphens or underscores")
)

// Embedder embeds text for storage and retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Agent is one simulated agent's cognitive stack.
type Agent struct {
	id        string
	store     *memory.Store
	embedder  Embedder
	retriever *retrieval.Engine
	reflector *reflection.Engine
	estimator *reflection.ImportanceEstimator
	logger    *zap.Logger

	// mu serializes recording and retrieval for the agent.
	mu sync.Mutex
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.id }

// Store returns the agent's memory store.
func (a *Agent) Store() *memory.Store { return a.store }

// Reflector returns the agent's reflection engine.
func (a *Agent) Reflector() *reflection.Engine { return a.reflector }

// RecordObservation stores what the agent perceived and returns the new
// memory id. Importance must be 1 to 10, or 0 to have it estimated.
func (a *Agent) RecordObservation(ctx context.Context, text string, importance int) (string, error) {
	return a.record(ctx, memory.KindObservation, text, importance)
}

// RecordPlan stores an intended course of action. Plans take part in
// retrieval like observations.
func (a *Agent) RecordPlan(ctx context.Context, text string, importance int) (string, error) {
	return a.record(ctx, memory.KindPlan, text, importance)
}

func (a *Agent) record(ctx context.Context, kind memory.Kind, text string, importance int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if importance < 0 || importance > memory.MaxImportance {
		return "", fmt.Errorf("%w: %d", memory.ErrInvalidImportance, importance)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if importance == 0 {
		est, err := a.estimator.Estimate(ctx, text)
		if err != nil {
			return "", fmt.Errorf("estimating importance: %w", err)
		}
		importance = est.Importance
		a.logger.Debug("importance estimated",
			zap.Int("importance", importance),
			zap.String("source", string(est.Source)),
		)
	}

	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		if !errors.Is(err, provider.ErrAllProvidersExhausted) {
			return "", fmt.Errorf("embedding %s: %w", kind, err)
		}
		a.logger.Warn("storing memory with fallback embedding", zap.Error(err))
	}

	m, err := a.store.Append(memory.Memory{
		Kind:       kind,
		Text:       text,
		Importance: importance,
		Embedding:  vec,
	})
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

// Retrieve returns up to k memories of any kind that best fit query, best
// first, and marks them accessed.
func (a *Agent) Retrieve(ctx context.Context, query string, k int) ([]memory.Memory, error) {
	res, err := a.RetrieveScored(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return res.Memories(), nil
}

// RetrieveScored is Retrieve with component scores and the degraded flag.
func (a *Agent) RetrieveScored(ctx context.Context, query string, k int) (retrieval.Result, error) {
	if strings.TrimSpace(query) == "" {
		return retrieval.Result{}, ErrEmptyText
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retriever.Retrieve(ctx, query, a.store.All(), k, a.store)
}

// ReflectionTree returns the agent's reflections organized by level.
func (a *Agent) ReflectionTree() *memory.Tree {
	return a.store.Tree()
}

// Reflect forces a reflection cycle.
func (a *Agent) Reflect(ctx context.Context) (reflection.Cycle, error) {
	return a.reflector.Reflect(ctx)
}

// Tick runs any reflection cycles that are due.
func (a *Agent) Tick(ctx context.Context) ([]reflection.Cycle, error) {
	return a.reflector.Tick(ctx)
}

// Stats summarizes an agent.
type Stats struct {
	ID         string           `json:"id"`
	Memory     memory.Stats     `json:"memory"`
	Reflection reflection.Stats `json:"reflection"`
	TreeDepth  int              `json:"tree_depth"`
}

// Stats returns a snapshot of the agent.
func (a *Agent) Stats() Stats {
	return Stats{
		ID:         a.id,
		Memory:     a.store.Stats(),
		Reflection: a.reflector.Stats(),
		TreeDepth:  a.store.MaxLevel(),
	}
}
