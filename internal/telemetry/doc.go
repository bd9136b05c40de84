// Package telemetry selects and owns the exporter graph for traces, metrics
// and logs.
//
// # Exporter modes
//
// A single flag, telemetry.use_managed_backend, chooses one of two graphs
// at startup:
//
//	Local    OTLP (grpc or http/protobuf) to local.collector_endpoint for
//	         traces, metrics and logs; logs are duplicated to
//	         local.log_aggregator_endpoint over OTLP/HTTP.
//	Managed  OTLP/HTTPS to the endpoint named in
//	         managed.connection_string for all three signals.
//
// The choice is resolved once into an ExporterConfiguration (Local or
// Managed) and never changes for the life of the process. Selecting the
// managed backend without a usable connection string is a startup error.
//
// Every span is sampled in both modes.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err // misconfiguration: do not serve traffic
//	}
//	defer tel.Shutdown(context.Background())
//
//	otel.SetErrorHandler(telemetry.NewErrorHandler(zapLogger, 30*time.Second))
//	e.GET(telemetry.MetricsPath, echo.WrapHandler(tel.MetricsHandler()))
//
// # Configuration
//
//	telemetry:
//	  use_managed_backend: false
//	  service_name: "tracewire"
//	  protocol: "grpc"
//	  insecure: true
//	  local:
//	    collector_endpoint: "localhost:4317"
//	    log_aggregator_endpoint: "http://localhost:5341/ingest/otlp"
//	  managed:
//	    connection_string: "IngestionEndpoint=https://ingest.example.com;ApiKey=..."
//	  metrics:
//	    export_interval: "15s"
//
// # Error Handling
//
// Exporter failures after startup never reach request handling. The batch
// processors drop or retry per SDK policy and NewErrorHandler reports the
// failures at a bounded rate.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
