// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/seatswap/seatswap/internal/auth"
	"github.com/seatswap/seatswap/internal/circuitbreaker"
	"github.com/seatswap/seatswap/internal/config"
	"github.com/seatswap/seatswap/internal/escrow"
	"github.com/seatswap/seatswap/internal/health"
	"github.com/seatswap/seatswap/internal/inventory"
	"github.com/seatswap/seatswap/internal/logging"
	"github.com/seatswap/seatswap/internal/metrics"
	"github.com/seatswap/seatswap/internal/notify"
	"github.com/seatswap/seatswap/internal/order"
	"github.com/seatswap/seatswap/internal/payment"
	"github.com/seatswap/seatswap/internal/payout"
	"github.com/seatswap/seatswap/internal/ratelimit"
	"github.com/seatswap/seatswap/internal/realtime"
	"github.com/seatswap/seatswap/internal/reclaimer"
	"github.com/seatswap/seatswap/internal/security"
	"github.com/seatswap/seatswap/internal/sellers"
	"github.com/seatswap/seatswap/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	tickets       inventory.Store
	orders        order.Store
	provider      payment.Provider
	escrowService *escrow.Service
	reclaimSvc    *reclaimer.Service
	reclaimTimer  *reclaimer.Timer
	sellerService *sellers.Service
	payoutBatcher *payout.Batcher
	payoutTimer   *payout.Timer
	dispatcher    *notify.Dispatcher
	realtimeHub   *realtime.Hub
	verifier      *auth.Verifier
	checks        *health.Registry
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProvider sets a custom payment provider (for testing)
func WithProvider(p payment.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Apply options first (may set provider/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var payoutStore payout.Store
	var sellerStore sellers.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.tickets = inventory.NewPostgresStore(db)
		s.orders = order.NewPostgresStore(db)
		payoutStore = payout.NewPostgresStore(db)
		sellerStore = sellers.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return health.Fail("database", err)
			}
			return health.OK("database")
		})
	} else {
		s.tickets = inventory.NewMemoryStore()
		s.orders = order.NewMemoryStore()
		payoutStore = payout.NewMemoryStore()
		sellerStore = sellers.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Realtime hub doubles as an event sink so websocket clients see the
	// same lifecycle events webhooks do.
	s.realtimeHub = realtime.NewHub(s.logger)

	sinks := []notify.Sink{s.realtimeHub}
	if cfg.NotifyWebhookURL != "" {
		sink, err := notify.NewWebhookSink(cfg.NotifyWebhookURL, s.logger)
		if err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_WEBHOOK_URL: %w", err)
		}
		sinks = append(sinks, sink)
		s.logger.Info("webhook notifications enabled")
	}
	s.dispatcher = notify.NewDispatcher(s.logger, sinks...)

	// Payment provider (Stripe in production, fake for dev/demo)
	if s.provider == nil {
		if cfg.StripeSecretKey != "" {
			breaker := circuitbreaker.New(5, 30*time.Second)
			s.provider = payment.NewResilient(payment.NewStripeProvider(cfg.StripeSecretKey), breaker)
			s.logger.Info("stripe payment provider enabled")
		} else {
			s.provider = payment.NewFakeProvider()
			s.logger.Warn("using fake payment provider (no STRIPE_SECRET_KEY)")
		}
	}

	// Lifecycle services
	s.escrowService = escrow.NewService(s.orders, s.tickets, s.provider, s.dispatcher, s.logger, escrow.Config{
		HoldTTL:          cfg.HoldTTL,
		ServiceFeeBps:    int64(cfg.ServiceFeeBps),
		ApprovalCooldown: cfg.ApprovalCooldown,
		PublicBaseURL:    cfg.PublicBaseURL,
	})
	s.reclaimSvc = reclaimer.NewService(s.orders, s.tickets, s.dispatcher, s.logger, cfg.HoldTTL, cfg.ReclaimBatchLimit)
	s.sellerService = sellers.NewService(sellerStore)
	s.payoutBatcher = payout.NewBatcher(s.orders, payoutStore, s.sellerService, s.dispatcher, s.logger, cfg.EventReleaseDelay)

	// In-process sweeps are optional. Deployments with an external cron
	// hit /v1/cron/* instead and leave SWEEP_INTERVAL unset.
	if cfg.SweepInterval > 0 {
		s.reclaimTimer = reclaimer.NewTimer(s.reclaimSvc, cfg.SweepInterval, s.logger)
		s.payoutTimer = payout.NewTimer(s.payoutBatcher, cfg.SweepInterval, s.logger)
		s.logger.Info("in-process sweeps enabled", "interval", cfg.SweepInterval)
	}

	s.verifier = auth.NewVerifier(cfg.ActorTokenSecret)
	if cfg.ActorTokenSecret == "" {
		s.logger.Warn("actor token verification disabled (no ACTOR_TOKEN_SECRET)")
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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
			logger.Info("request completed",
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
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time order lifecycle streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	inventoryHandler := inventory.NewHandler(s.tickets)
	escrowHandler := escrow.NewHandler(s.escrowService)
	sellerHandler := sellers.NewHandler(s.sellerService)
	payoutHandler := payout.NewHandler(s.payoutBatcher)
	reclaimHandler := reclaimer.NewHandler(s.reclaimSvc)

	// V1 API group. Actor identity is resolved for every request;
	// individual route groups decide whether it is required.
	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.verifier))

	// PUBLIC ROUTES (read-only discovery)
	inventoryHandler.RegisterRoutes(v1)
	v1.GET("/feed", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// PROTECTED ROUTES (require actor token)
	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	{
		inventoryHandler.RegisterProtectedRoutes(protected)
		escrowHandler.RegisterProtectedRoutes(protected)
		sellerHandler.RegisterProtectedRoutes(protected)
		payoutHandler.RegisterProtectedRoutes(protected)
	}

	// CRON ROUTES (shared-secret trigger for sweeps)
	cron := v1.Group("/cron")
	cron.Use(auth.RequireCronSecret(s.cfg.CronSecret))
	{
		reclaimHandler.RegisterCronRoutes(cron)
		payoutHandler.RegisterCronRoutes(cron)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "SeatSwap",
		"description": "Escrowed ticket resale marketplace",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

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

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub (the dispatcher worker is already running)
	go s.realtimeHub.Run(runCtx)

	// Start sweep timers
	if s.reclaimTimer != nil {
		go s.reclaimTimer.Start(runCtx)
	}
	if s.payoutTimer != nil {
		go s.payoutTimer.Start(runCtx)
	}

	// Start DB pool stats collector
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
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

	// Cancel the context for all background goroutines (hub, timers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop sweep timers
	if s.reclaimTimer != nil {
		s.reclaimTimer.Stop()
		s.logger.Info("reclaim timer stopped")
	}
	if s.payoutTimer != nil {
		s.payoutTimer.Stop()
		s.logger.Info("payout timer stopped")
	}

	// Drain pending notifications
	s.dispatcher.Close()
	s.logger.Info("event dispatcher stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
