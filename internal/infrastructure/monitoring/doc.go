/*
Package monitoring provides metrics collection for the relay.

# Overview

Prometheus metrics cover inbound HTTP traffic, relay outcomes, upstream
fetches and the occupancy of the response cache and the session jar.
Metrics implements relay.Observer so the orchestrator reports into it
without importing Prometheus.

# Features

- HTTP request metrics (latency, throughput, size) keyed by route template
- Relay outcomes by content class, cache status and status code
- Relay failures by error kind
- Upstream latency by status class
- Cache entries/bytes, active sessions and open breakers as gauge funcs
- A JSON snapshot for the health endpoint

# Usage

	metrics := monitoring.NewMetrics()
	metrics.TrackCache(cache)
	metrics.TrackSessions(jar)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", monitoring.Handler(metrics))

	r := relay.New(fetcher, cache, jar, relay.WithObserver(metrics))
*/
package monitoring
