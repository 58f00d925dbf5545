/*
Package monitoring provides Prometheus metrics for the viewer server.

# Overview

Each Metrics owns a private registry, so several instances (one per test)
never collide. Metrics implements messaging.Observer and viewer.Recorder
and is handed to those packages directly.

# Metrics

- HTTP requests (count, latency, response size) by route pattern
- Cache URLs built by mode and label derivation (readable or fallback)
- Handshakes started, established and closed by strategy
- Probes needed by polled handshakes
- Dropped inbound messages by reason (spoofed, stale, unrecognized, closed)
- Attached documents and bridge connections
- Prefetch outcomes and latency

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
