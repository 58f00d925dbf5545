package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/ampviewer/internal/api/http"
	"github.com/GriffinCanCode/ampviewer/internal/api/middleware"
	"github.com/GriffinCanCode/ampviewer/internal/api/ws"
	"github.com/GriffinCanCode/ampviewer/internal/cacheurl"
	"github.com/GriffinCanCode/ampviewer/internal/eventloop"
	"github.com/GriffinCanCode/ampviewer/internal/infrastructure/config"
	"github.com/GriffinCanCode/ampviewer/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ampviewer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ampviewer/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/ampviewer/internal/prefetch"
	"github.com/GriffinCanCode/ampviewer/internal/viewer"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	handler http.Handler
	loop    *eventloop.Queue
	viewer  *viewer.Viewer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return NewServerWithLogger(cfg, logger), nil
}

// NewServerWithLogger creates a server using an existing logger.
func NewServerWithLogger(cfg *config.Config, logger *logging.Logger) *Server {
	logger.Info("Initializing AMP viewer server",
		zap.String("port", cfg.Server.Port),
		zap.String("origin", cfg.ViewerOrigin()),
		zap.String("cache_domain", cfg.Cache.Domain),
		zap.String("strategy", cfg.Strategy().String()),
	)

	metrics := monitoring.NewMetrics()
	loop := eventloop.New(logger.Component("eventloop"))

	v := viewer.New(loop, viewer.Options{
		Builder:      cacheurl.NewBuilder(cfg.BuilderOptions()),
		Origin:       cfg.ViewerOrigin(),
		Strategy:     cfg.Strategy(),
		PollInterval: cfg.Handshake.PollInterval,
		Logger:       logger.Component("viewer"),
		Observer:     metrics,
		Recorder:     metrics,
	})

	var tracer *tracing.Tracer
	if cfg.Tracing.Enabled {
		tracer = tracing.New("ampviewer", logger.Component("trace"), cfg.Tracing.Buffer)
	}

	prefetcher := prefetch.New(prefetch.Options{
		RequestsPerSecond: cfg.Prefetch.RequestsPerSecond,
		Concurrency:       cfg.Prefetch.Concurrency,
		Timeout:           cfg.Prefetch.Timeout,
		Retries:           cfg.Prefetch.Retries,
		UserAgent:         cfg.Prefetch.UserAgent,
		Logger:            logger.Component("prefetch"),
		Recorder:          metrics,
		Tracer:            tracer,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger.Component("http")))
	if tracer != nil {
		router.Use(tracing.HTTPMiddleware(tracer))
	}
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORS.AllowedOrigins...)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := apihttp.NewHandlers(v, metrics, logger.Component("api")).WithPrefetcher(prefetcher)
	wsHandler := ws.NewHandler(v, loop, ws.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Metrics:        metrics,
		Logger:         logger.Component("bridge"),
	})

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/v1")
	v1.GET("/curls", handlers.Curls)
	v1.GET("/cache-url", handlers.GetCacheURL)
	v1.POST("/cache-url", handlers.PostCacheURL)
	v1.POST("/prefetch", handlers.Prefetch)
	v1.GET("/sessions", handlers.ListSessions)
	v1.GET("/sessions/:id", handlers.GetSession)
	v1.DELETE("/sessions/:id", handlers.DeleteSession)
	v1.GET("/bridge", wsHandler.HandleConnection)

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		handler: compress(router),
		loop:    loop,
		viewer:  v,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
		tracer:  tracer,
	}
}

// compress gzips responses except WebSocket upgrades, which need the raw
// connection.
func compress(h http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			h.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Viewer returns the viewer served by s.
func (s *Server) Viewer() *viewer.Viewer {
	return s.viewer
}

// Run starts the event loop and the HTTP server, and shuts both down
// gracefully when ctx ends.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	loopErr := make(chan error, 1)
	go func() { loopErr <- s.loop.Run(ctx) }()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		s.loop.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case err := <-loopErr:
		if ctx.Err() == nil {
			_ = srv.Close()
			return fmt.Errorf("event loop stopped: %w", err)
		}
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Graceful shutdown failed", zap.Error(err))
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close detaches every session, stops the loop and flushes the logger.
func (s *Server) Close() error {
	s.viewer.Close()
	s.loop.Stop()
	s.tracer.Close()
	_ = s.logger.Sync()
	return nil
}
