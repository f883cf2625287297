// Package http provides the HTTP API for applyd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/applyd/internal/apply"
	"github.com/fyrsmithlabs/applyd/internal/artifactstore"
	"github.com/fyrsmithlabs/applyd/internal/conversation"
	"github.com/fyrsmithlabs/applyd/internal/logging"
	"github.com/fyrsmithlabs/applyd/internal/project"
)

// Server provides the HTTP endpoints for applyd.
type Server struct {
	echo     *echo.Echo
	coord    *apply.Coordinator
	projects *project.Registry
	files    *project.FileRepository
	history  *conversation.Store
	store    artifactstore.Client
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	ServiceName string
}

// NewServer creates the applyd HTTP server. history may be nil; the
// message endpoints then report the history store as unavailable.
func NewServer(coord *apply.Coordinator, projects *project.Registry, files *project.FileRepository, history *conversation.Store, store artifactstore.Client, logger *zap.Logger, cfg *Config) (*Server, error) {
	if coord == nil {
		return nil, fmt.Errorf("apply coordinator cannot be nil")
	}
	if projects == nil {
		return nil, fmt.Errorf("project registry cannot be nil")
	}
	if files == nil {
		return nil, fmt.Errorf("file repository cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store client cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 7430,
		}
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "applyd"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			fields := append(logging.TraceFields(c.Request().Context()),
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			logger.Info("http request", fields...)

			return err
		}
	})

	s := &Server{
		echo:     e,
		coord:    coord,
		projects: projects,
		files:    files,
		history:  history,
		store:    store,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")

	v1.POST("/projects", s.handleCreateProject)
	v1.GET("/projects", s.handleListProjects)
	v1.GET("/projects/:id", s.handleGetProject)
	v1.DELETE("/projects/:id", s.handleDeleteProject)

	v1.GET("/projects/:id/state", s.handleApplicationState)
	v1.GET("/projects/:id/files", s.handleProjectFiles)
	v1.POST("/projects/:id/apply", s.handleApply)
	v1.POST("/projects/:id/apply-silent", s.handleApplySilent)

	v1.GET("/projects/:id/messages", s.handleListMessages)
	v1.POST("/projects/:id/messages", s.handleAppendMessage)

	v1.GET("/deployments", s.handlePendingDeployments)
	v1.POST("/deployments/:project_id/claim", s.handleClaimDeployment)
}

// handleHealth returns liveness plus the artifact store's readiness.
func (s *Server) handleHealth(c echo.Context) error {
	storeStatus := "ready"
	if err := s.store.Ready(); err != nil {
		storeStatus = "unavailable"
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: s.config.ServiceName,
		Store:   storeStatus,
	})
}

// Echo returns the underlying Echo instance for registering additional
// routes such as /metrics.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
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
