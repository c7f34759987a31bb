// Package types provides shared data structures for the cache agent.
//
// These types travel between the HTTP surface, the host adapter, the agent
// and the cache backends, so none of them carry transport-specific state.
//
// Core Types:
//   - Request: an intercepted outgoing request (method, URL, headers)
//   - Response: a complete response (status, headers, buffered body)
//   - Message: an inbound page message ({type: "..."})
//   - Reply: a message reply sent back over a port
//
// Example Usage:
//
//	req := types.NewRequest(http.MethodGet, "https://app.local/index.html")
//	req.Header.Set("Accept", "text/html")
package types
