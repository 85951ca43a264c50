// Package telemetry provides observability instrumentation for embedding
// runs.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified
// system for monitoring and debugging runs.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "qembed"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Add telemetry to context so every component of a run logs with the same
// run-scoped fields:
//
//	ctx = tel.WithContext(ctx)
//	log := telemetry.FromContext(ctx).WithRunID(runID)
//	log.WithFragmentID("frag-2").Info("solve finished")
//
// Metrics register on a dedicated registry exposed over HTTP via
// StartMetricsServer.
package telemetry
