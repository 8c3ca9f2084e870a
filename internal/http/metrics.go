package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/mazemind/internal/http"

// requestMetrics instruments the API. Labels use the route pattern, so agent
// ids never become label values.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
	degraded metric.Int64Counter
}

func newRequestMetrics(meter metric.Meter, logger *zap.Logger) *requestMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &requestMetrics{}
	var err error

	m.requests, err = meter.Int64Counter(
		"mazemind.http.requests_total",
		metric.WithDescription("API requests by method, route and status code"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"mazemind.http.request_duration_seconds",
		metric.WithDescription("API request latency by method, route and status code. Reflect requests include every model call of the cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.inFlight, err = meter.Int64UpDownCounter(
		"mazemind.http.active_requests",
		metric.WithDescription("API requests in progress"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create active requests counter", zap.Error(err))
	}

	m.degraded, err = meter.Int64Counter(
		"mazemind.http.degraded_responses_total",
		metric.WithDescription("Requests answered with 503 because providers were exhausted or the model is in heuristic mode"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create degraded responses counter", zap.Error(err))
	}
	return m
}

// middleware records every request once the handler returns.
func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
			}

			err := next(c)

			route := routeLabel(c.Path())
			status := responseStatus(c, err)
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", route),
				attribute.String("status", strconv.Itoa(status)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if status == http.StatusServiceUnavailable && m.degraded != nil {
				m.degraded.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", route)))
			}
			if m.inFlight != nil {
				m.inFlight.Add(ctx, -1)
			}
			return err
		}
	}
}

// responseStatus is the status the client will see. Errors are written by
// the echo error handler after the middleware chain returns.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// routeLabel maps unmatched requests to a single label.
func routeLabel(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
