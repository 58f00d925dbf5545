package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/ampviewer/internal/infrastructure/tracing"
)

// CORSConfig lists the host page origins allowed to call the API.
type CORSConfig struct {
	// AllowAll accepts any origin; AllowOrigins is ignored.
	AllowAll         bool
	AllowOrigins     []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// correlation headers a host page may send and read back.
var correlationHeaders = []string{RequestIDHeader, tracing.TraceHeader, tracing.SpanHeader}

// DefaultCORSConfig returns the API's CORS settings for the given origins.
// An empty list allows any origin without credentials.
func DefaultCORSConfig(origins ...string) CORSConfig {
	if len(origins) == 0 {
		return CORSConfig{AllowAll: true, MaxAge: 12 * time.Hour}
	}
	return CORSConfig{
		AllowOrigins:     origins,
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

// CORS answers preflights for the viewer API. Host pages only need the
// methods the routes use, JSON bodies and the correlation headers.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	headers := append([]string{"Origin", "Accept", "Content-Type", "Cache-Control"}, correlationHeaders...)
	origins := cfg.AllowOrigins
	if cfg.AllowAll {
		origins = nil
	}
	return cors.New(cors.Config{
		AllowAllOrigins:  cfg.AllowAll,
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     headers,
		ExposeHeaders:    correlationHeaders,
		AllowCredentials: cfg.AllowCredentials,
		AllowWebSockets:  true,
		MaxAge:           cfg.MaxAge,
	})
}
