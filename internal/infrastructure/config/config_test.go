package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ampviewer/internal/messaging"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Cache config
	assert.Equal(t, "cdn.ampproject.org", cfg.Cache.Domain)
	assert.Equal(t, "0.1", cfg.Cache.JSVersion)

	// Handshake config
	assert.Equal(t, messaging.StrategyListen, cfg.Strategy())
	assert.Equal(t, time.Second, cfg.Handshake.PollInterval)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 1024, cfg.Tracing.Buffer)

	assert.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                    "9000",
		"HOST":                    "127.0.0.1",
		"VIEWER_ORIGIN":           "https://viewer.example/",
		"AMP_CACHE_DOMAIN":        "amp.cloudflare.com",
		"AMP_JS_VERSION":          "0.2",
		"HANDSHAKE_STRATEGY":      "poll",
		"HANDSHAKE_POLL_INTERVAL": "250ms",
		"PREFETCH_RPS":            "1.5",
		"PREFETCH_CONCURRENCY":    "8",
		"PREFETCH_TIMEOUT":        "3s",
		"PREFETCH_RETRIES":        "0",
		"LOG_LEVEL":               "debug",
		"LOG_DEV":                 "true",
		"RATE_LIMIT_RPS":          "500",
		"RATE_LIMIT_BURST":        "1000",
		"RATE_LIMIT_ENABLED":      "false",
		"TRACING_ENABLED":         "false",
		"ALLOWED_ORIGINS":         "https://a.example,https://b.example",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "https://viewer.example", cfg.ViewerOrigin())
	assert.Equal(t, "amp.cloudflare.com", cfg.BuilderOptions().CacheDomain)
	assert.Equal(t, "0.2", cfg.BuilderOptions().JSVersion)
	assert.Equal(t, messaging.StrategyPoll, cfg.Strategy())
	assert.Equal(t, 250*time.Millisecond, cfg.Handshake.PollInterval)
	assert.InDelta(t, 1.5, cfg.Prefetch.RequestsPerSecond, 0.0001)
	assert.Equal(t, 8, cfg.Prefetch.Concurrency)
	assert.Equal(t, 3*time.Second, cfg.Prefetch.Timeout)
	assert.Zero(t, cfg.Prefetch.Retries)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"HANDSHAKE_STRATEGY", "shout"},
		{"HANDSHAKE_POLL_INTERVAL", "0s"},
		{"HANDSHAKE_POLL_INTERVAL", "soon"},
		{"AMP_CACHE_DOMAIN", "cdn.example/path"},
		{"PREFETCH_CONCURRENCY", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)

			cfg := LoadOrDefault()
			assert.Equal(t, Default(), cfg)
		})
	}
}

func TestViewerOriginFromHost(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://localhost:8000", cfg.ViewerOrigin())

	cfg.Server.Host = "10.0.0.5"
	cfg.Server.Port = "81"
	assert.Equal(t, "http://10.0.0.5:81", cfg.ViewerOrigin())
}
