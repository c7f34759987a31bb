// Package http provides the agent's HTTP handlers.
//
// Agent endpoints live under /_agent. Every other request falls through to
// Proxy, which hands it to the host and reports the outcome in X-Cache.
package http
