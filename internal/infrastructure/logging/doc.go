// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components receive a *zap.Logger (see Logger.Component); a nil logger
// means zap.NewNop(). Handshake traffic that is dropped (spoofed, stale or
// unrecognized messages) is logged at Debug only.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Server starting", zap.String("port", "8000"))
//	logger.Error("Failed to attach", zap.Error(err))
package logging
