// Package fetch provides the network side of the cache agent.
//
// Built on go-resty/resty over a hashicorp/go-retryablehttp client:
//   - Retries with exponential backoff on connection errors and 5xx
//   - Connection pooling and keep-alive
//   - Context-based cancellation
//   - Optional rate limiting per client instance
//   - Circuit breaker per client instance
//
// A 5xx response counts against the breaker but is still returned to the
// caller as a response, not an error: only transport failures are errors.
//
// Example Usage:
//
//	client := fetch.NewClient(fetch.Options{Timeout: 10 * time.Second})
//	resp, err := client.Fetch(ctx, types.NewRequest(http.MethodGet, "https://cdn.jsdelivr.net/npm/chart.js"))
package fetch
