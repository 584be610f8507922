// Package server exposes the indexing and search operations over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/totenbilder/searchd/internal/config"
)

// Server is the HTTP front of the daemon.
type Server struct {
	echo    *echo.Echo
	backend Backend
	logger  *zap.Logger
	config  config.ServerConfig
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(backend Backend, logger *zap.Logger, cfg config.ServerConfig) (*Server, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:    e,
		backend: backend,
		logger:  logger.Named("server"),
		config:  cfg,
	}
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	api := s.echo.Group("/api")
	api.GET("/search", s.handleSearchGet)
	api.POST("/search", s.handleSearch)
	api.GET("/reconcile", s.handleReconcile)
	api.GET("/jobs/:id", s.handleJob)

	// Mutating endpoints require the API key.
	protected := api.Group("", s.requireAPIKey)
	protected.POST("/index", s.handleIndex)
	protected.POST("/index-one", s.handleIndexOne)
	protected.POST("/update-payload", s.handleUpdatePayload)
}

// requireAPIKey checks the X-API-Key header on mutating endpoints. A
// missing server-side key is a deployment error and reported as such, not
// as an auth failure.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		configured := s.config.APIKey.Value()
		if configured == "" {
			s.logger.Error("api key not configured, rejecting mutating request")
			return echo.NewHTTPError(http.StatusInternalServerError, "api key not configured")
		}
		presented := c.Request().Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
		}
		return next(c)
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
