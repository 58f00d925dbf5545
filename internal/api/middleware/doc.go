// Package middleware provides the gin middleware stack for the viewer API.
//
// Middleware stack includes:
//   - RequestID: assigns X-Request-ID and stores it on the request context
//   - AccessLog: one zap line per request, level by status class
//   - CORS: cross-origin resource sharing for the configured viewer origins
//   - RateLimit: per-IP token bucket rate limiting with idle eviction
//
// Example Usage:
//
//	router.Use(middleware.RequestID(), middleware.AccessLog(logger))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORS.AllowedOrigins...)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
