/*
Package resilience provides a circuit breaker for upstream fetches.

# Overview

The breaker stops the proxy from hammering an origin or CDN that is down.
While open, fetches fail fast with ErrCircuitOpen, which the agent treats
like any other network failure: document requests fall back to the shell
page and everything else surfaces the error.

# Usage

	breaker := resilience.New("upstream", resilience.Settings{
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	resp, err := resilience.Do(breaker, func() (*types.Response, error) {
		return client.Fetch(ctx, req)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           v
	                                         Open

Results of requests that started in an earlier generation (before a state
change) are ignored. Caller cancellations count as successes by default.
*/
package resilience
