/*
Package monitoring provides Prometheus metrics for the cache agent.

# Overview

Metrics live on an injected registry rather than the global default, so a
process can host several agents and tests can create collectors freely.

# Features

  - HTTP request metrics labelled by route (proxied paths share one label)
  - Interceptor outcomes: hit, miss, offline, bypass, error
  - Bucket writes and stale bucket deletions
  - Lifecycle transitions and event handler durations
  - Upstream fetch counts, latency and circuit breaker state
  - Connected client gauge

# Usage

	metrics := monitoring.NewMetrics(nil)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/_agent/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "install")
	err := worker.OnInstall(ctx)
	timer.Stop(err)
*/
package monitoring
