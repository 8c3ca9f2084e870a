package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/agent"
	"github.com/fyrsmithlabs/mazemind/internal/config"
	"github.com/fyrsmithlabs/mazemind/internal/embeddings"
	"github.com/fyrsmithlabs/mazemind/internal/llm"
	"github.com/fyrsmithlabs/mazemind/internal/reflection"
	"github.com/fyrsmithlabs/mazemind/internal/retrieval"
	"github.com/fyrsmithlabs/mazemind/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// mazeModel answers the reflection prompts with canned text.
type mazeModel struct{}

func (mazeModel) Name() string { return config.ProviderOllama }

func (mazeModel) Probe(context.Context) error { return nil }

func (mazeModel) Generate(_ context.Context, prompt string, _ llm.Options) (llm.Completion, error) {
	switch {
	case strings.Contains(prompt, "salient high-level questions"):
		return llm.Completion{Text: "1. Which way is the exit?"}, nil
	case strings.Contains(prompt, "single insight"):
		return llm.Completion{Text: "Insight: Lit corridors lead toward the exit."}, nil
	case strings.Contains(prompt, "Classify the following insight"):
		return llm.Completion{Text: "strategy"}, nil
	case strings.Contains(prompt, "rate the likely importance"):
		return llm.Completion{Text: "7"}, nil
	}
	return llm.Completion{}, fmt.Errorf("unexpected prompt")
}

// failingModel fails every availability check with err.
type failingModel struct {
	name string
	err  error
}

func (m failingModel) Name() string { return m.name }

func (m failingModel) Probe(context.Context) error { return m.err }

func (m failingModel) Generate(context.Context, string, llm.Options) (llm.Completion, error) {
	return llm.Completion{}, m.err
}

// newTestRuntime builds a runtime on hash embeddings whose model order is
// ollama, heuristic, then extra.
func newTestRuntime(t *testing.T, extra ...llm.Client) *agent.Runtime {
	t.Helper()
	emb, err := embeddings.NewService([]embeddings.Client{embeddings.NewHashClient(32)}, 64, embeddings.WithDimension(32))
	require.NoError(t, err)
	gen, err := llm.NewService(append([]llm.Client{mazeModel{}, llm.HeuristicClient{}}, extra...), config.ProviderOllama)
	require.NoError(t, err)
	ret, err := retrieval.NewEngine(emb)
	require.NoError(t, err)
	sched, err := reflection.NewScheduler()
	require.NoError(t, err)

	rcfg := reflection.DefaultConfig()
	rcfg.MaxLevel = 1
	rt, err := agent.NewRuntime(services.NewRegistry(services.Options{
		Embeddings: emb,
		LLM:        gen,
		Retrieval:  ret,
		Scheduler:  sched,
		Reflection: rcfg,
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	server, err := NewServer(newTestRuntime(t), zap.NewNop(), &Config{Host: "localhost", Port: 9090, Version: "test", DefaultK: 5})
	require.NoError(t, err)
	return server
}

func do(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	rt := newTestRuntime(t)

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(rt, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9090, server.config.Port)
		assert.Equal(t, 10, server.config.DefaultK)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(rt, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when runtime is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "runtime cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	s := setupTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, HealthResponse{Status: "ok", Version: "test"}, decode[HealthResponse](t, rec))
}

func TestHandleMetrics(t *testing.T) {
	s := setupTestServer(t)
	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# TYPE")
}

func TestAgentLifecycle(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/agents", SpawnRequest{ID: "runner-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "runner-1", decode[agent.Stats](t, rec).ID)

	rec = do(t, s, http.MethodPost, "/api/v1/agents", SpawnRequest{ID: "runner-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/agents", SpawnRequest{ID: "../bad"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"runner-1"}, decode[AgentsResponse](t, rec).Agents)

	rec = do(t, s, http.MethodDelete, "/api/v1/agents/runner-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodDelete, "/api/v1/agents/runner-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRecordAndRetrieve(t *testing.T) {
	s := setupTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/v1/agents", SpawnRequest{ID: "a1"}).Code)

	t.Run("records observations and plans", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/agents/a1/observations", RecordRequest{Text: "a lit corridor to the north", Importance: 8})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.NotEmpty(t, decode[RecordResponse](t, rec).ID)

		rec = do(t, s, http.MethodPost, "/api/v1/agents/a1/observations", RecordRequest{Text: "go north", Importance: 4, Kind: "plan"})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = do(t, s, http.MethodPost, "/api/v1/agents/a1/observations", RecordRequest{Text: "a puddle"})
		require.Equal(t, http.StatusCreated, rec.Code, "importance estimated by the model")
	})

	t.Run("rejects bad records", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/agents/a1/observations", RecordRequest{Text: "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = do(t, s, http.MethodPost, "/api/v1/agents/a1/observations", RecordRequest{Text: "x", Importance: 11})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = do(t, s, http.MethodPost, "/api/v1/agents/a1/observations", RecordRequest{Text: "x", Kind: "reflection"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = do(t, s, http.MethodPost, "/api/v1/agents/nobody/observations", RecordRequest{Text: "x", Importance: 3})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("retrieves ranked memories without embeddings", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/v1/agents/a1/memories?query=corridor&k=2", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotContains(t, rec.Body.String(), "embedding")

		resp := decode[MemoriesResponse](t, rec)
		require.Len(t, resp.Memories, 2)
		assert.False(t, resp.Degraded)
		assert.GreaterOrEqual(t, resp.Memories[0].Score, resp.Memories[1].Score)

		rec = do(t, s, http.MethodGet, "/api/v1/agents/a1/memories?query=corridor", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[MemoriesResponse](t, rec).Memories, 3)
	})

	t.Run("rejects bad queries", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/agents/a1/memories?query=x&k=abc", nil).Code)
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/agents/a1/memories?query=x&k=1000", nil).Code)
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/agents/a1/memories", nil).Code)
	})
}

func TestHandleReflectAndTree(t *testing.T) {
	s := setupTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/v1/agents", SpawnRequest{ID: "a1"}).Code)
	require.Equal(t, http.StatusCreated,
		do(t, s, http.MethodPost, "/api/v1/agents/a1/observations", RecordRequest{Text: "the lit corridor ends at the exit", Importance: 9}).Code)

	rec := do(t, s, http.MethodPost, "/api/v1/agents/a1/reflect", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cycle := decode[CycleResponse](t, rec)
	assert.Equal(t, 1, cycle.Level)
	assert.Equal(t, "manual", cycle.Trigger)
	assert.Equal(t, []string{"Which way is the exit?"}, cycle.Questions)
	require.Len(t, cycle.Reflections, 1)
	assert.Equal(t, "Lit corridors lead toward the exit.", cycle.Reflections[0].Text)

	rec = do(t, s, http.MethodGet, "/api/v1/agents/a1/tree", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tree struct {
		Depth  int `json:"depth"`
		Size   int `json:"size"`
		Levels []struct {
			Level int `json:"level"`
		} `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tree))
	assert.Equal(t, 1, tree.Depth)
	assert.Equal(t, 1, tree.Size)

	rec = do(t, s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	assert.Equal(t, StatusCounts{Agents: 1, Observations: 1, Reflections: 1, MaxDepth: 1}, stats.Counts)
	assert.Equal(t, config.ProviderOllama, stats.Runtime.LLM.Active)
}

func TestHandleLLMProvider(t *testing.T) {
	s := setupTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/v1/agents", SpawnRequest{ID: "a1"}).Code)
	require.Equal(t, http.StatusCreated,
		do(t, s, http.MethodPost, "/api/v1/agents/a1/observations", RecordRequest{Text: "a dead end", Importance: 5}).Code)

	rec := do(t, s, http.MethodPost, "/api/v1/llm/cycle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.ProviderHeuristic, decode[ProviderResponse](t, rec).Active)

	rec = do(t, s, http.MethodPost, "/api/v1/agents/a1/reflect", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no reflection without a model")

	rec = do(t, s, http.MethodPut, "/api/v1/llm/provider", ProviderRequest{Name: "gpt-unknown"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodPut, "/api/v1/llm/provider", ProviderRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/api/v1/llm/provider", ProviderRequest{Name: config.ProviderOllama})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.ProviderOllama, decode[ProviderResponse](t, rec).Active)
}

func TestHandleLLMProvider_UnreachableIsServiceUnavailable(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	rt := newTestRuntime(t,
		failingModel{name: config.ProviderAnthropic, err: errors.New("dial tcp: connection refused")},
		failingModel{name: config.ProviderOpenAI, err: context.DeadlineExceeded},
	)
	s, err := NewServer(rt, zap.New(core), &Config{Version: "test"})
	require.NoError(t, err)

	for _, name := range []string{config.ProviderAnthropic, config.ProviderOpenAI} {
		rec := do(t, s, http.MethodPut, "/api/v1/llm/provider", ProviderRequest{Name: name})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, name)
		assert.NotContains(t, rec.Body.String(), "internal error", name)
	}
	assert.Equal(t, config.ProviderOllama, rt.LLM().Active())
	assert.Zero(t, logs.Len(), "unreachable providers are not server errors")
}

func TestCountFromStats(t *testing.T) {
	assert.Equal(t, StatusCounts{}, CountFromStats(agent.RuntimeStats{}))
}

func TestServer_StartAndShutdown(t *testing.T) {
	rt := newTestRuntime(t)
	server, err := NewServer(rt, zap.NewNop(), &Config{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	require.Eventually(t, func() bool { return server.echo.ListenerAddr() != nil }, time.Second, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
	assert.ErrorIs(t, <-errCh, http.ErrServerClosed)
}
