// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/humancheck/internal/auditlog"
	"github.com/mbd888/humancheck/internal/circuitbreaker"
	"github.com/mbd888/humancheck/internal/config"
	"github.com/mbd888/humancheck/internal/health"
	"github.com/mbd888/humancheck/internal/idgen"
	"github.com/mbd888/humancheck/internal/logging"
	"github.com/mbd888/humancheck/internal/login"
	"github.com/mbd888/humancheck/internal/metrics"
	"github.com/mbd888/humancheck/internal/ratelimit"
	"github.com/mbd888/humancheck/internal/realtime"
	"github.com/mbd888/humancheck/internal/retry"
	"github.com/mbd888/humancheck/internal/security"
	"github.com/mbd888/humancheck/internal/validation"
)

// Audit store circuit settings.
const (
	breakerThreshold = 5
	breakerOpenFor   = 30 * time.Second
	storeStatsEvery  = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	store        auditlog.Store
	csvStore     *auditlog.CSVStore // nil when a custom store is injected
	breaker      *circuitbreaker.Breaker
	loginService *login.Service
	realtimeHub  *realtime.Hub
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	drainDelay   time.Duration

	// Health state
	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore replaces the CSV audit store (for testing)
func WithStore(store auditlog.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithDrainDelay sets how long Shutdown waits before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: nil config")
	}

	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
		health:     health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.realtimeHub = realtime.NewHub(s.logger)

	if s.store == nil {
		s.breaker = circuitbreaker.New(breakerThreshold, breakerOpenFor)
		s.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
			s.logger.Warn("audit store circuit changed",
				"key", key,
				"from", from.String(),
				"to", to.String(),
			)
		})

		policy := retry.DefaultPolicy()
		policy.Attempts = cfg.AuditRetryAttempts

		s.csvStore = auditlog.NewCSVStore(cfg.LogPath,
			auditlog.WithRetry(policy),
			auditlog.WithBreaker(s.breaker),
			auditlog.WithLogger(s.logger),
			auditlog.WithMigrationHook(s.onMigration),
		)
		s.store = s.csvStore
	}

	s.loginService = login.NewService(s.store, s.logger).WithFeed(s.realtimeHub)

	s.registerHealthChecks()

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// onMigration fans a schema change out to metrics and live feed clients.
func (s *Server) onMigration(m auditlog.Migration) {
	if m.Rewritten > 0 || len(m.Added) > 0 {
		metrics.ObserveMigration(m.Degraded)
	}
	if len(m.Added) > 0 {
		s.realtimeHub.BroadcastSchema(m.Added)
	}
}

func (s *Server) registerHealthChecks() {
	s.health.Register("server", func(_ context.Context) health.Status {
		if !s.ready.Load() {
			return health.Status{Name: "server", Healthy: false, Detail: "not_ready"}
		}
		return health.Status{Name: "server", Healthy: true}
	})

	if s.csvStore == nil {
		return
	}
	store := s.csvStore
	s.health.Register("audit_store", func(_ context.Context) health.Status {
		st := health.Status{Name: "audit_store", Healthy: true, Detail: store.Circuit().String()}
		if store.Circuit() == circuitbreaker.StateOpen {
			st.Healthy = false
		}
		return st
	})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request ID first so every later log line carries it
	s.router.Use(s.requestIDMiddleware())

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream request ID (from load balancer, etc.)
		requestID := validation.SanitizeString(c.GetHeader("X-Request-ID"), 64)
		if requestID == "" {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", metrics.Handler())

	api := s.router.Group("/api")
	api.GET("/health", health.Live)
	api.GET("/health/ready", s.health.Ready)

	handler := login.NewHandler(s.loginService)

	// Only the login route is rate limited; reporting is read-only.
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
	})
	limited := api.Group("")
	limited.Use(s.rateLimiter.Middleware())
	handler.RegisterRoutes(limited)
	handler.RegisterReportRoutes(api)

	api.GET("/feed/stats", s.feedStatsHandler)
	s.router.GET("/ws", gin.WrapF(s.realtimeHub.HandleWebSocket))
}

func (s *Server) feedStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Prepare runs the audit schema migration. A store that cannot be prepared
// is logged and left to fail per request; verdicts are still served.
func (s *Server) Prepare(ctx context.Context) {
	m, err := s.store.EnsureSchema(ctx)
	if err != nil {
		s.logger.Error("audit store unavailable at startup", "error", err)
		return
	}
	s.logger.Info("audit store ready",
		"created", m.Created,
		"added", len(m.Added),
		"rewritten", m.Rewritten,
	)
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.Prepare(ctx)

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"audit_path", s.cfg.LogPath,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.csvStore != nil {
		go metrics.StartStoreStatsCollector(runCtx, s.csvStore.Path(), storeStatsEvery)
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		s.rateLimiter.Stop()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (hub, store stats)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Store returns the audit store the server writes to.
func (s *Server) Store() auditlog.Store {
	return s.store
}
