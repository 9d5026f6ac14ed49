// Package api serves the device-facing HTTP interface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/provision-gateway/internal/version"
	"github.com/yourorg/provision-gateway/pkg/auth"
	"github.com/yourorg/provision-gateway/pkg/metrics"
)

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Debug           bool          `mapstructure:"debug"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Debug:           false,
	}
}

// Server represents the HTTP server
type Server struct {
	config   *ServerConfig
	logger   *zap.Logger
	router   *gin.Engine
	server   *http.Server
	handlers *Handlers
	auth     *auth.Middleware
	metrics  *metrics.Metrics
}

// Dependencies contains all dependencies needed by the server
type Dependencies struct {
	Logger      *zap.Logger
	Provisioner Provisioner
	Auth        *auth.Middleware
	Metrics     *metrics.Metrics
	Checks      []ReadinessCheck
}

// NewServer creates a new HTTP server
func NewServer(config *ServerConfig, deps *Dependencies) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(deps.Logger))
	router.Use(func(c *gin.Context) {
		c.Header("Server", version.Product())
		c.Next()
	})
	// Phones rarely follow redirects; both slash forms are routed explicitly.
	router.RedirectTrailingSlash = false

	if len(config.TrustedProxies) > 0 {
		if err := router.SetTrustedProxies(config.TrustedProxies); err != nil {
			deps.Logger.Warn("invalid trusted proxies", zap.Error(err))
		}
	}

	s := &Server{
		config:   config,
		logger:   deps.Logger,
		router:   router,
		handlers: NewHandlers(deps.Logger, deps.Provisioner, deps.Checks),
		auth:     deps.Auth,
		metrics:  deps.Metrics,
	}

	s.setupRoutes()

	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handlers.HealthCheck)
	s.router.GET("/ready", s.handlers.Readiness)

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/api")
	{
		api.GET("/download-xml", s.handlers.Download)
		api.GET("/download-xml/", s.handlers.Download)
		api.GET("/download-xml/:filename", s.handlers.Download)
		api.GET("/download-xml/:filename/", s.handlers.Download)

		api.GET("/device-info", s.handlers.DeviceInfo)
		api.GET("/device-info/", s.handlers.DeviceInfo)
	}

	if s.auth != nil {
		whoami := api.Group("/whoami")
		whoami.Use(s.auth.Authenticate(), s.auth.RequireScopes(auth.ScopeRead))
		{
			whoami.GET("", s.handlers.WhoAmI)
			whoami.GET("/", s.handlers.WhoAmI)
		}
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// runs cleanup in order. It returns only after cleanup has finished.
func (s *Server) Run(ctx context.Context, cleanup ...func() error) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return s.serve(ctx, ln, cleanup)
}

func (s *Server) serve(ctx context.Context, ln net.Listener, cleanup []func() error) error {
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting HTTP server", zap.String("address", ln.Addr().String()))

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.server.Serve(ln)
	}()

	var err error
	select {
	case err = <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		err = s.Shutdown(context.Background())
	}

	for _, fn := range cleanup {
		if cerr := fn(); cerr != nil {
			s.logger.Error("shutdown cleanup failed", zap.Error(cerr))
		}
	}
	return err
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// requests up to the configured timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// RequestLogger returns a gin middleware for logging requests
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}

		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if status >= 500 {
			logger.Error("request completed", fields...)
		} else if status >= 400 {
			logger.Warn("request completed", fields...)
		} else {
			logger.Info("request completed", fields...)
		}
	}
}
