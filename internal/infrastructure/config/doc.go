// Package config provides 12-factor configuration for the viewer server.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, public viewer origin)
//   - Cache: AMP cache root domain and runtime version
//   - Handshake: default strategy and poll interval
//   - Prefetch: cache warming rate, concurrency, timeout and retries
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - CORS: allowed origins for the API
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, VIEWER_ORIGIN
//   - AMP_CACHE_DOMAIN, AMP_JS_VERSION
//   - HANDSHAKE_STRATEGY, HANDSHAKE_POLL_INTERVAL
//   - PREFETCH_RPS, PREFETCH_CONCURRENCY, PREFETCH_TIMEOUT, PREFETCH_RETRIES, PREFETCH_USER_AGENT
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - ALLOWED_ORIGINS
package config
