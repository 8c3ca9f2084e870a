// Package telemetry provides OpenTelemetry tracing and metrics for mazemind.
//
// # Usage
//
//	cfg := telemetry.FromSettings(appCfg.Observability, version)
//	tel, err := telemetry.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// When enabled, New installs the OTLP providers globally, so packages that
// create instruments with otel.Tracer and otel.Meter export through them.
// Spans and metrics go to an OTLP collector over gRPC or HTTP.
//
// # Configuration
//
//	observability:
//	  enable_telemetry: true
//	  endpoint: "localhost:4317"
//	  protocol: "grpc"
//	  sample_rate: 1.0
//	  export_interval: "15s"
//
// # Error Handling
//
// Exporter failures do not stop the process. The instance is marked
// degraded and the no-op providers remain installed.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
