// Package telemetry wires OpenTelemetry tracing, metrics and logs for embedkit.
//
// Providers export over OTLP (gRPC or HTTP/protobuf) to a collector. The
// logger provider backs the zap bridge in the logging package. When
// telemetry is disabled, instrumented code records into the global no-op
// providers.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests use TestTelemetry, which records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	defer tt.Install()()
//	// ... exercise code that calls otel.Tracer ...
//	tt.AssertSpanExists(t, "embeddings.EmbedDocuments")
package telemetry
