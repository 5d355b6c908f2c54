// Package middleware provides the HTTP middleware stack of the relay.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing; X-Cache and ETag are exposed
//   - RateLimit: Per-IP token bucket rate limiting with idle eviction
//   - Recovery: Panic recovery with zap logging
//   - Logger: One structured line per request carrying the trace id
//
// Example Usage:
//
//	router.Use(middleware.Recovery(logger))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
