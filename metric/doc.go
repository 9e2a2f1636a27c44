// Package metric provides Prometheus metrics for citystreams pipelines and
// the HTTP server exposing them.
//
// # Architecture
//
//  1. Pipeline Metrics: the Metrics type, registered automatically and
//     labelled by stream (records received, parsed and late; parse errors by
//     field; batches committed and retried; source retries; checkpoint
//     offset; watermark; pipeline state; batch duration).
//  2. Backend Registry: MetricsRegistrar lets storage backends register their
//     own collectors without name clashes.
//  3. HTTP Server: /metrics in Prometheus format and /health as JSON,
//     answering 503 when the service is unhealthy.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, sup.Health)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//	defer server.Stop()
//
// Pipelines receive registry.CoreMetrics(). A nil *Metrics is valid and
// records nothing, which keeps tests free of Prometheus state.
package metric
