// Package http serves the agent runtime over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/agent"
	"github.com/fyrsmithlabs/mazemind/internal/llm"
	"github.com/fyrsmithlabs/mazemind/internal/memory"
	"github.com/fyrsmithlabs/mazemind/internal/provider"
	"github.com/fyrsmithlabs/mazemind/internal/reflection"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// maxK caps the k query parameter of memory retrieval.
const maxK = 100

// Server provides HTTP endpoints for a runtime.
type Server struct {
	echo    *echo.Echo
	runtime *agent.Runtime
	logger  *zap.Logger
	config  *Config
	metrics *requestMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host     string
	Port     int
	Version  string
	DefaultK int
	// Meter records request metrics; nil uses the global meter provider.
	Meter metric.Meter
}

// NewServer creates a new HTTP server.
func NewServer(rt *agent.Runtime, logger *zap.Logger, cfg *Config) (*Server, error) {
	if rt == nil {
		return nil, fmt.Errorf("runtime cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 10
	}

	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		runtime: rt,
		logger:  logger,
		config:  cfg,
		metrics: newRequestMetrics(meter, logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", responseStatus(c, err)),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/stats", s.handleStats)

	v1.GET("/agents", s.handleListAgents)
	v1.POST("/agents", s.handleSpawn)
	v1.DELETE("/agents/:id", s.handleRemove)
	v1.POST("/agents/:id/observations", s.handleRecord)
	v1.GET("/agents/:id/memories", s.handleMemories)
	v1.GET("/agents/:id/tree", s.handleTree)
	v1.POST("/agents/:id/reflect", s.handleReflect)

	v1.POST("/llm/cycle", s.handleCycleLLM)
	v1.PUT("/llm/provider", s.handleSetLLM)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.config.Version})
}

func (s *Server) handleStats(c echo.Context) error {
	st := s.runtime.Stats()
	return c.JSON(http.StatusOK, StatsResponse{
		Counts:  CountFromStats(st),
		Runtime: st,
	})
}

func (s *Server) handleListAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, AgentsResponse{Agents: s.runtime.Agents()})
}

func (s *Server) handleSpawn(c echo.Context) error {
	var req SpawnRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid spawn request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := s.runtime.Spawn(req.ID)
	if err != nil {
		return s.agentError(err)
	}
	return c.JSON(http.StatusCreated, a.Stats())
}

func (s *Server) handleRemove(c echo.Context) error {
	if err := s.runtime.Remove(c.Param("id")); err != nil {
		return s.agentError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRecord(c echo.Context) error {
	a, err := s.runtime.Agent(c.Param("id"))
	if err != nil {
		return s.agentError(err)
	}
	var req RecordRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid record request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	var id string
	switch memory.Kind(req.Kind) {
	case "", memory.KindObservation:
		id, err = a.RecordObservation(ctx, req.Text, req.Importance)
	case memory.KindPlan:
		id, err = a.RecordPlan(ctx, req.Text, req.Importance)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "kind must be observation or plan")
	}
	if err != nil {
		return s.agentError(err)
	}
	return c.JSON(http.StatusCreated, RecordResponse{ID: id})
}

func (s *Server) handleMemories(c echo.Context) error {
	a, err := s.runtime.Agent(c.Param("id"))
	if err != nil {
		return s.agentError(err)
	}
	k := s.config.DefaultK
	if raw := c.QueryParam("k"); raw != "" {
		k, err = strconv.Atoi(raw)
		if err != nil || k < 0 || k > maxK {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("k must be an integer between 0 and %d", maxK))
		}
	}
	res, err := a.RetrieveScored(c.Request().Context(), c.QueryParam("query"), k)
	if err != nil {
		return s.agentError(err)
	}
	return c.JSON(http.StatusOK, newMemoriesResponse(res))
}

func (s *Server) handleTree(c echo.Context) error {
	a, err := s.runtime.Agent(c.Param("id"))
	if err != nil {
		return s.agentError(err)
	}
	return c.JSON(http.StatusOK, a.ReflectionTree())
}

func (s *Server) handleReflect(c echo.Context) error {
	a, err := s.runtime.Agent(c.Param("id"))
	if err != nil {
		return s.agentError(err)
	}
	cycle, err := a.Reflect(c.Request().Context())
	if err != nil {
		return s.agentError(err)
	}
	return c.JSON(http.StatusOK, newCycleResponse(cycle))
}

func (s *Server) handleCycleLLM(c echo.Context) error {
	name, err := s.runtime.LLM().CycleProvider(c.Request().Context())
	if err != nil {
		return s.agentError(err)
	}
	return c.JSON(http.StatusOK, ProviderResponse{Active: name})
}

func (s *Server) handleSetLLM(c echo.Context) error {
	var req ProviderRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name field is required")
	}
	if err := s.runtime.LLM().SetProvider(c.Request().Context(), req.Name); err != nil {
		return s.agentError(err)
	}
	return c.JSON(http.StatusOK, ProviderResponse{Active: s.runtime.LLM().Active()})
}

// agentError maps runtime errors to HTTP errors.
func (s *Server) agentError(err error) error {
	switch {
	case errors.Is(err, agent.ErrAgentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, agent.ErrAgentExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, agent.ErrInvalidAgentID),
		errors.Is(err, agent.ErrEmptyText),
		errors.Is(err, memory.ErrInvalidImportance),
		errors.Is(err, llm.ErrUnknownProvider):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, reflection.ErrCycleInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, llm.ErrHeuristicMode),
		errors.Is(err, provider.ErrAllProvidersExhausted),
		errors.Is(err, provider.ErrProviderUnavailable),
		errors.Is(err, provider.ErrTimeout):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	s.logger.Error("request failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
