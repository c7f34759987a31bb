// Package main is the entry point for the shellcache server.
//
// shellcache is an offline cache agent for a single-page app. It sits in
// front of the app origin and its CDN scripts, serves the app shell
// cache-first from a versioned bucket and falls back to the stored shell
// page when the network is gone.
//
// Architecture:
//
//	Page → shellcache (host → agent → bucket store) → App origin / CDN
//
// The server provides:
//   - Cache-first proxy for the app origin and allow-listed CDN hosts
//   - Forward proxy for absolute-form requests
//   - Message and websocket channels (SKIP_WAITING, GET_VERSION)
//   - Background sync trigger
//   - Prometheus metrics
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional YAML or TOML asset manifest
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Serve a local build of the app, caching to disk
//	./server -origin http://localhost:8080 -store disk -store-path ./.cache
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
