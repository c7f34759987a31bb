// Package server assembles the agent, its host and the HTTP surface from
// configuration and runs them until the context ends.
package server
