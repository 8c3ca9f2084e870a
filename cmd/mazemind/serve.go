package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/mazemind/internal/agent"
	internalhttp "github.com/fyrsmithlabs/mazemind/internal/http"
	"github.com/fyrsmithlabs/mazemind/internal/reflection"
	"github.com/fyrsmithlabs/mazemind/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const reflectionScope = "github.com/fyrsmithlabs/mazemind/internal/reflection"

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent runtime over HTTP",
	Long: `Start the HTTP API for spawning agents, recording observations and plans,
retrieving memories and inspecting reflection trees. Background reflection
runs on the configured check interval.

Examples:
  # Serve with defaults on localhost:9191
  mazemind serve

  # Serve on all interfaces
  mazemind serve --host 0.0.0.0 --port 8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "listen host (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides server.http_port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zl := logger.Underlying()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version), zl.Named("telemetry"))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	rt, err := newRuntime(cfg, logger, nil,
		agent.WithTracer(tel.Tracer(reflectionScope)),
		agent.WithReflectionMetrics(reflection.NewMetricsWithMeter(tel.Meter(reflectionScope), zl.Named("reflection"))),
	)
	if err != nil {
		return err
	}

	srv, err := internalhttp.NewServer(rt, zl.Named("http"), &internalhttp.Config{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Version:  version,
		DefaultK: cfg.Retrieval.DefaultK,
	})
	if err != nil {
		_ = rt.Close()
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if err := rt.Start(ctx); err != nil {
		_ = rt.Close()
		return fmt.Errorf("failed to start reflection scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	zl.Info("mazemind started",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("telemetry", tel.IsEnabled()),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		zl.Info("received signal, shutting down gracefully",
			zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	errs := []error{serveErr}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := rt.Close(); err != nil {
		errs = append(errs, fmt.Errorf("runtime close: %w", err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	zl.Info("mazemind stopped")
	return nil
}
