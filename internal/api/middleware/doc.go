// Package middleware provides HTTP middleware for the agent's gin router.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing, exposing X-Cache and X-Request-ID
//   - RateLimit: Per-IP token bucket rate limiting with idle cleanup
//   - GlobalRateLimit: One token bucket for all callers
//   - RequestID: UUID request IDs, honouring a caller-supplied one
//   - Logger: Structured request logging via zap
//
// Example Usage:
//
//	router.Use(middleware.RequestID())
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
