// Package httpapi exposes the authentication lifecycle over HTTP: the
// login/validate/refresh/signout endpoints, account management,
// health and capability introspection, and the Prometheus scrape
// endpoint.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/observability"
	"github.com/vyrodovalexey/avauth/internal/orchestrator"
	"github.com/vyrodovalexey/avauth/internal/security"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race
// conditions.
var ginModeOnce sync.Once

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns a ServerConfig with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:      ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	engine       *gin.Engine
	httpServer   *http.Server
	orchestrator *orchestrator.Orchestrator
	security     security.Service
	logger       observability.Logger
	config       *ServerConfig
	gatherer     prometheus.Gatherer

	mu      sync.RWMutex
	running bool
}

// ServerOption is a functional option for the server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger observability.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer sets the Prometheus gatherer served at /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(
	cfg *ServerConfig,
	orch *orchestrator.Orchestrator,
	sec security.Service,
	opts ...ServerOption,
) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine:       gin.New(),
		orchestrator: orch,
		security:     sec,
		logger:       observability.NopLogger(),
		config:       cfg,
		gatherer:     prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogging())
	s.registerRoutes()

	return s
}

// Engine returns the underlying gin engine, for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// requestLogging logs each request with its status and latency.
func (s *Server) requestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", c.Writer.Status()),
			observability.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleLiveness)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.engine.Group("/v1")
	{
		authGroup := v1.Group("/auth")
		authGroup.POST("/login", s.handleLogin)
		authGroup.POST("/validate", s.handleValidate)
		authGroup.POST("/refresh", s.handleRefresh)
		authGroup.POST("/signout", s.handleSignOut)
		authGroup.POST("/signout-all", s.handleGlobalSignOut)

		users := v1.Group("/users")
		users.POST("", s.handleCreateUser)
		users.POST("/:id/activate", s.handleActivateUser)
		users.POST("/:id/activation-code", s.handleResendActivation)

		v1.GET("/health", s.handleSystemHealth)
		v1.GET("/capabilities", s.handleCapabilities)
		v1.GET("/metrics/performance", s.handlePerformanceMetrics)
	}
}

// securityContext builds the per-request security context from the
// client address and forwarded headers.
func (s *Server) securityContext(c *gin.Context) *auth.SecurityContext {
	headers := map[string]string{
		"X-Forwarded-For": c.GetHeader("X-Forwarded-For"),
		"X-Real-Ip":       c.GetHeader("X-Real-Ip"),
	}
	requestID := c.GetHeader("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return &auth.SecurityContext{
		IPAddress: s.security.ClientIP(c.Request.RemoteAddr, headers),
		UserAgent: c.GetHeader("User-Agent"),
		RequestID: requestID,
		Timestamp: time.Now(),
	}
}

// Start runs the server until it is stopped or fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Addr:         s.config.Address,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", s.config.Address),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
