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

	"github.com/waveform-market/waveform/internal/catalog"
	"github.com/waveform-market/waveform/internal/config"
	"github.com/waveform-market/waveform/internal/escrow"
	"github.com/waveform-market/waveform/internal/gateway"
	"github.com/waveform-market/waveform/internal/health"
	"github.com/waveform-market/waveform/internal/identity"
	"github.com/waveform-market/waveform/internal/logging"
	"github.com/waveform-market/waveform/internal/metrics"
	"github.com/waveform-market/waveform/internal/notify"
	"github.com/waveform-market/waveform/internal/orders"
	"github.com/waveform-market/waveform/internal/payouts"
	"github.com/waveform-market/waveform/internal/ratelimit"
	"github.com/waveform-market/waveform/internal/realtime"
	"github.com/waveform-market/waveform/internal/security"
	"github.com/waveform-market/waveform/internal/streams"
	"github.com/waveform-market/waveform/internal/traces"
	"github.com/waveform-market/waveform/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider identity.Provider

	escrowService  *escrow.Service
	orderService   *orders.Service
	catalogService *catalog.Service
	streamService  *streams.Service
	payoutService  *payouts.Service
	gatewayService *gateway.Service
	notifyService  *notify.Service
	realtimeHub    *realtime.Hub

	rateLimiter *ratelimit.Limiter
	checks      *health.Registry
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server

	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	tracesShutdown func(context.Context) error

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

// WithIdentityProvider sets a custom token resolver (for testing, or for
// plugging in the platform's real auth service)
func WithIdentityProvider(p identity.Provider) Option {
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

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		escrowStore  escrow.Store
		orderStore   orders.Store
		catalogStore catalog.Store
		streamStore  streams.Store
		payoutStore  payouts.Store
		eventStore   gateway.EventStore
		notifyStore  notify.Store
	)
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
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		escrowPg := escrow.NewPostgresStore(db)
		orderPg := orders.NewPostgresStore(db)
		catalogPg := catalog.NewPostgresStore(db)
		streamPg := streams.NewPostgresStore(db)
		payoutPg := payouts.NewPostgresStore(db)
		eventPg := gateway.NewPostgresStore(db)
		notifyPg := notify.NewPostgresStore(db)

		for _, st := range []interface {
			Migrate(context.Context) error
		}{escrowPg, orderPg, catalogPg, streamPg, payoutPg, eventPg, notifyPg} {
			if err := st.Migrate(ctx); err != nil {
				s.logger.Warn("store migration failed", "error", err)
			}
		}

		escrowStore = escrowPg
		orderStore = orderPg
		catalogStore = catalogPg
		streamStore = streamPg
		payoutStore = payoutPg
		eventStore = eventPg
		notifyStore = notifyPg

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		escrowStore = escrow.NewMemoryStore()
		orderStore = orders.NewMemoryStore()
		catalogStore = catalog.NewMemoryStore()
		streamStore = streams.NewMemoryStore()
		payoutStore = payouts.NewMemoryStore()
		eventStore = gateway.NewMemoryStore()
		notifyStore = notify.NewMemoryStore()
	}

	// Identity provider: injected, or the static token table from config
	if s.provider == nil {
		provider, err := identity.ParseProviderSpec(cfg.AuthTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to parse AUTH_TOKENS: %w", err)
		}
		if provider.Len() == 0 {
			s.logger.Warn("no auth tokens configured, all protected routes will reject")
		}
		s.provider = provider
	}

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	// Core settlement services
	s.catalogService = catalog.NewService(catalogStore)
	s.escrowService = escrow.NewService(escrowStore)

	s.notifyService = notify.NewService(notifyStore).
		WithSigningSecret(cfg.NotifySigningSecret)
	if cfg.IsProduction() {
		s.notifyService = s.notifyService.WithStrictEndpoints()
	}

	s.orderService = orders.NewService(orderStore, s.escrowService, &catalogAdapter{s.catalogService}).
		WithNotifier(s.notifyService).
		WithEvents(realtime.NewEmitter(s.realtimeHub))

	streamService, err := streams.NewService(streamStore, s.catalogService, cfg.StreamRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream service: %w", err)
	}
	s.streamService = streamService

	payoutService, err := payouts.NewService(payoutStore, s.escrowService, cfg.PayoutMinimum)
	if err != nil {
		return nil, fmt.Errorf("failed to create payout service: %w", err)
	}
	s.payoutService = payoutService

	// Payment gateway: Stripe when a key is configured, deterministic
	// manual verification otherwise
	var provider gateway.PaymentGateway
	if cfg.StripeAPIKey != "" {
		provider = gateway.NewStripeGateway(cfg.StripeAPIKey)
		s.logger.Info("stripe charge verification enabled")
	} else {
		provider = gateway.NewManualGateway()
		s.logger.Info("manual charge verification enabled")
	}
	s.gatewayService = gateway.NewService(eventStore, s.orderService, provider)

	if cfg.GatewayWebhookSecret == "" {
		s.logger.Warn("gateway webhook signature verification disabled")
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

// catalogAdapter narrows the catalog service to what order creation needs.
type catalogAdapter struct {
	catalog *catalog.Service
}

func (a *catalogAdapter) Product(ctx context.Context, id string) (*orders.ProductInfo, error) {
	p, err := a.catalog.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	return &orders.ProductInfo{
		ID:       p.ID,
		SellerID: p.SellerID,
		Price:    p.Price,
		Currency: p.Currency,
		Active:   p.Active,
	}, nil
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
	limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
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

	// Ops status page
	s.router.GET("/status", s.statusPageHandler)

	// WebSocket for real-time settlement events
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	catalogHandler := catalog.NewHandler(s.catalogService)
	escrowHandler := escrow.NewHandler(s.escrowService)
	orderHandler := orders.NewHandler(s.orderService)
	streamHandler := streams.NewHandler(s.streamService)
	payoutHandler := payouts.NewHandler(s.payoutService)
	gatewayHandler := gateway.NewHandler(s.gatewayService, s.cfg.GatewayWebhookSecret)
	notifyHandler := notify.NewHandler(s.notifyService)

	// PUBLIC ROUTES (read endpoints, stream recording, provider webhook).
	// Identity middleware still runs so optional-auth routes can attribute
	// the caller when a token is present.
	v1.Use(identity.Middleware(s.provider))
	catalogHandler.RegisterRoutes(v1)
	escrowHandler.RegisterRoutes(v1)
	orderHandler.RegisterRoutes(v1)
	streamHandler.RegisterRoutes(v1)
	gatewayHandler.RegisterRoutes(v1)

	// PROTECTED ROUTES (require a resolved principal)
	protected := v1.Group("")
	protected.Use(identity.RequireAuth())
	{
		catalogHandler.RegisterProtectedRoutes(protected)
		orderHandler.RegisterProtectedRoutes(protected)
		payoutHandler.RegisterProtectedRoutes(protected)
		notifyHandler.RegisterProtectedRoutes(protected)
	}

	// ADMIN ROUTES (dispute adjudication, payout processing, manual revenue)
	admin := v1.Group("/admin")
	admin.Use(identity.AdminSecretMiddleware(s.cfg.AdminSecret), identity.RequireAdmin())
	{
		orderHandler.RegisterAdminRoutes(admin)
		payoutHandler.RegisterAdminRoutes(admin)
		streamHandler.RegisterAdminRoutes(admin)
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
		"name":        "Waveform",
		"description": "Settlement core for the music marketplace",
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

	// Distributed tracing (no-op when no OTLP endpoint is configured)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

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

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

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

	// Cancel the context for all background goroutines (hub, deliveries)
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

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush buffered trace spans
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
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
