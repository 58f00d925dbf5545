package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/ampviewer/internal/cacheurl"
	"github.com/GriffinCanCode/ampviewer/internal/messaging"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Cache     CacheConfig
	Handshake HandshakeConfig
	Prefetch  PrefetchConfig
	Logging   LogConfig
	Tracing   TracingConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// Origin is the viewer's public origin, sent to documents as the
	// origin init param. Empty means http://HOST:PORT.
	Origin string `envconfig:"VIEWER_ORIGIN"`
}

// CacheConfig selects the AMP cache.
type CacheConfig struct {
	Domain    string `envconfig:"AMP_CACHE_DOMAIN" default:"cdn.ampproject.org"`
	JSVersion string `envconfig:"AMP_JS_VERSION" default:"0.1"`
}

// HandshakeConfig holds viewer handshake defaults.
type HandshakeConfig struct {
	Strategy     string        `envconfig:"HANDSHAKE_STRATEGY" default:"listen"`
	PollInterval time.Duration `envconfig:"HANDSHAKE_POLL_INTERVAL" default:"1s"`
}

// PrefetchConfig holds cache warming settings.
type PrefetchConfig struct {
	RequestsPerSecond float64       `envconfig:"PREFETCH_RPS" default:"5"`
	Concurrency       int           `envconfig:"PREFETCH_CONCURRENCY" default:"4"`
	Timeout           time.Duration `envconfig:"PREFETCH_TIMEOUT" default:"10s"`
	Retries           int           `envconfig:"PREFETCH_RETRIES" default:"2"`
	UserAgent         string        `envconfig:"PREFETCH_USER_AGENT" default:"ampviewer-prefetch/1.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// TracingConfig controls request and prefetch spans.
type TracingConfig struct {
	Enabled bool `envconfig:"TRACING_ENABLED" default:"true"`
	Buffer  int  `envconfig:"TRACING_BUFFER" default:"1024"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig holds cross-origin settings for the API.
type CORSConfig struct {
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Cache: CacheConfig{
			Domain:    cacheurl.DefaultCacheDomain,
			JSVersion: cacheurl.DefaultJSVersion,
		},
		Handshake: HandshakeConfig{
			Strategy:     "listen",
			PollInterval: messaging.DefaultPollInterval,
		},
		Prefetch: PrefetchConfig{
			RequestsPerSecond: 5,
			Concurrency:       4,
			Timeout:           10 * time.Second,
			Retries:           2,
			UserAgent:         "ampviewer-prefetch/1.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Tracing: TracingConfig{
			Enabled: true,
			Buffer:  1024,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
	}
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if _, err := messaging.ParseStrategy(c.Handshake.Strategy); err != nil {
		return fmt.Errorf("invalid HANDSHAKE_STRATEGY: %w", err)
	}
	if c.Handshake.PollInterval <= 0 {
		return fmt.Errorf("invalid HANDSHAKE_POLL_INTERVAL: %s", c.Handshake.PollInterval)
	}
	if strings.Contains(c.Cache.Domain, "/") || c.Cache.Domain == "" {
		return fmt.Errorf("invalid AMP_CACHE_DOMAIN: %q", c.Cache.Domain)
	}
	if c.Prefetch.Concurrency < 1 {
		return fmt.Errorf("invalid PREFETCH_CONCURRENCY: %d", c.Prefetch.Concurrency)
	}
	return nil
}

// Strategy returns the parsed handshake strategy.
func (c *Config) Strategy() messaging.Strategy {
	s, err := messaging.ParseStrategy(c.Handshake.Strategy)
	if err != nil {
		return messaging.StrategyListen
	}
	return s
}

// ViewerOrigin returns the configured viewer origin.
func (c *Config) ViewerOrigin() string {
	if c.Server.Origin != "" {
		return strings.TrimRight(c.Server.Origin, "/")
	}
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + host + ":" + c.Server.Port
}

// BuilderOptions returns the cache URL builder settings.
func (c *Config) BuilderOptions() cacheurl.Options {
	return cacheurl.Options{CacheDomain: c.Cache.Domain, JSVersion: c.Cache.JSVersion}
}
