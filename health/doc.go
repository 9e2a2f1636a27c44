// Package health reports pipeline and service health for the /health endpoint.
//
// # Health States
//
//   - Healthy: the pipeline is running, or stopped cleanly
//   - Degraded: the pipeline is starting or waiting for the broker
//   - Unhealthy: the pipeline failed (retry budget exhausted, fatal error)
//
// # Aggregation
//
// The supervisor reports one Status per pipeline and aggregates them:
//
//	overall := health.Aggregate("citystreams", []health.Status{
//	    health.NewHealthy("vehicle", "running"),
//	    health.FromError("weather", err),
//	})
//	// overall.IsUnhealthy() == true
//
// Aggregation rules:
//   - Any unhealthy sub-status makes the aggregate unhealthy
//   - Any degraded sub-status (with none unhealthy) makes it degraded
//   - Otherwise it is healthy
//
// # Security
//
// FromError sanitizes error text before it is exposed: URLs, file paths,
// IP addresses, ports and credential-looking pairs are replaced with
// placeholders, so storage roots and broker addresses do not leak.
package health
