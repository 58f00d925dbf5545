package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ampviewer/internal/shared/id"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID assigns each request an id, reusing the caller's header when
// present, and stores it on the gin and request contexts.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := id.RequestID(c.GetHeader(RequestIDHeader))
		if rid == "" || len(rid) > 128 {
			rid = id.NewRequestID()
		}

		c.Set(string(requestIDKey), rid.String())
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey, rid))
		c.Header(RequestIDHeader, rid.String())

		c.Next()
	}
}

// GetRequestID returns the request id stored by RequestID.
func GetRequestID(ctx context.Context) id.RequestID {
	if rid, ok := ctx.Value(requestIDKey).(id.RequestID); ok {
		return rid
	}
	return ""
}

// AccessLog logs one line per request. Server errors log at Error, client
// errors at Warn, everything else at Debug.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", c.GetString(string(requestIDKey))),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("size", c.Writer.Size()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			logger.Error("HTTP request", fields...)
		case status >= 400:
			logger.Warn("HTTP request", fields...)
		default:
			logger.Debug("HTTP request", fields...)
		}
	}
}
