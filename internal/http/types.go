package http

import (
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/agent"
	"github.com/fyrsmithlabs/mazemind/internal/memory"
	"github.com/fyrsmithlabs/mazemind/internal/reflection"
	"github.com/fyrsmithlabs/mazemind/internal/retrieval"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	Counts  StatusCounts       `json:"counts"`
	Runtime agent.RuntimeStats `json:"runtime"`
}

// StatusCounts totals memories across all agents.
type StatusCounts struct {
	Agents       int `json:"agents"`
	Observations int `json:"observations"`
	Plans        int `json:"plans"`
	Reflections  int `json:"reflections"`
	MaxDepth     int `json:"max_depth"`
}

// AgentsResponse is the response body for GET /api/v1/agents.
type AgentsResponse struct {
	Agents []string `json:"agents"`
}

// SpawnRequest is the request body for POST /api/v1/agents.
type SpawnRequest struct {
	ID string `json:"id"`
}

// RecordRequest is the request body for POST /api/v1/agents/:id/observations.
// Importance 0 asks the server to estimate it.
type RecordRequest struct {
	Text       string `json:"text"`
	Importance int    `json:"importance"`
	Kind       string `json:"kind,omitempty"`
}

// RecordResponse carries the id of a stored memory.
type RecordResponse struct {
	ID string `json:"id"`
}

// MemoryView is a memory without its embedding.
type MemoryView struct {
	ID             string          `json:"id"`
	Kind           memory.Kind     `json:"kind"`
	Text           string          `json:"text"`
	Importance     int             `json:"importance"`
	Level          int             `json:"level"`
	Category       memory.Category `json:"category,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	Recency        float64         `json:"recency"`
	Relevance      float64         `json:"relevance"`
	Score          float64         `json:"score"`
}

// MemoriesResponse is the response body for GET /api/v1/agents/:id/memories.
type MemoriesResponse struct {
	Memories []MemoryView `json:"memories"`
	Degraded bool         `json:"degraded"`
}

func newMemoriesResponse(res retrieval.Result) MemoriesResponse {
	out := MemoriesResponse{Memories: make([]MemoryView, 0, len(res.Items)), Degraded: res.Degraded}
	for _, it := range res.Items {
		m := it.Memory
		out.Memories = append(out.Memories, MemoryView{
			ID:             m.ID,
			Kind:           m.Kind,
			Text:           m.Text,
			Importance:     m.Importance,
			Level:          m.Level,
			Category:       m.Category,
			CreatedAt:      m.CreatedAt,
			LastAccessedAt: m.LastAccessedAt,
			Recency:        it.Recency,
			Relevance:      it.Relevance,
			Score:          it.Score,
		})
	}
	return out
}

// CycleResponse is the response body for POST /api/v1/agents/:id/reflect.
type CycleResponse struct {
	Level       int          `json:"level"`
	Trigger     string       `json:"trigger"`
	Questions   []string     `json:"questions"`
	Reflections []MemoryView `json:"reflections"`
	DurationMs  int64        `json:"duration_ms"`
}

func newCycleResponse(c reflection.Cycle) CycleResponse {
	out := CycleResponse{
		Level:       c.Level,
		Trigger:     string(c.Trigger),
		Questions:   c.Questions,
		Reflections: make([]MemoryView, 0, len(c.Reflections)),
		DurationMs:  c.Duration.Milliseconds(),
	}
	if out.Questions == nil {
		out.Questions = []string{}
	}
	for _, m := range c.Reflections {
		out.Reflections = append(out.Reflections, MemoryView{
			ID:             m.ID,
			Kind:           m.Kind,
			Text:           m.Text,
			Importance:     m.Importance,
			Level:          m.Level,
			Category:       m.Category,
			CreatedAt:      m.CreatedAt,
			LastAccessedAt: m.LastAccessedAt,
		})
	}
	return out
}

// ProviderRequest is the request body for PUT /api/v1/llm/provider.
type ProviderRequest struct {
	Name string `json:"name"`
}

// ProviderResponse names the active LLM provider.
type ProviderResponse struct {
	Active string `json:"active"`
}
