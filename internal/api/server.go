// Package api exposes the guildvault HTTP surface: the OAuth2
// redirect/callback handshake that mints credentials and the management
// endpoints driving backups, restores, and schedules.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/guildvault/guildvault/internal/config"
	"github.com/guildvault/guildvault/internal/logging"
	log "github.com/sirupsen/logrus"
)

// Server wraps the Gin engine and the underlying HTTP server.
type Server struct {
	engine   *gin.Engine
	server   *http.Server
	cfg      *config.Config
	handlers *Handlers
}

// NewServer creates and initializes the API server: Gin engine,
// middleware, and routes.
func NewServer(cfg *config.Config, handlers *Handlers) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())

	s := &Server{
		engine:   engine,
		cfg:      cfg,
		handlers: handlers,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}
	return s
}

// setupRoutes configures the API routes for the server.
func (s *Server) setupRoutes() {
	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "guildvault membership backup service",
			"endpoints": []string{
				"GET /auth/login",
				"GET /auth/callback",
			},
		})
	})

	s.engine.GET("/auth/login", s.handlers.AuthLogin)
	s.engine.GET("/auth/callback", s.handlers.AuthCallback)

	// Management API. When no management key is configured, none of these
	// endpoints are exposed at all.
	if s.cfg.ManagementKey != "" {
		mgmt := s.engine.Group("/v0")
		mgmt.Use(managementMiddleware(s.cfg))
		{
			mgmt.POST("/guilds/:id/backups", s.handlers.RunBackup)
			mgmt.GET("/guilds/:id/backups/latest", s.handlers.LatestSnapshot)
			mgmt.POST("/guilds/:id/restore", s.handlers.RunRestore)

			mgmt.GET("/backups", s.handlers.ListSnapshots)
			mgmt.GET("/backups/:id", s.handlers.GetSnapshot)

			mgmt.GET("/guilds/:id/schedule", s.handlers.GetSchedule)
			mgmt.PUT("/guilds/:id/schedule", s.handlers.PutSchedule)
			mgmt.DELETE("/guilds/:id/schedule", s.handlers.DeleteSchedule)

			mgmt.GET("/users", s.handlers.ListUsers)
		}
	}
}

// managementMiddleware rejects requests whose X-Management-Key header does
// not match the configured key.
func managementMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Management-Key") != cfg.ManagementKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid management key"})
			return
		}
		c.Next()
	}
}

// Start begins listening for and serving HTTP requests. It is a blocking
// call and only returns on an unrecoverable error.
func (s *Server) Start() error {
	log.Debugf("starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting active
// connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
