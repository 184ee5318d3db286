package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/config"
	"example.com/dinehub/services/orders/handlers"
	"example.com/dinehub/services/orders/projections"
	"example.com/dinehub/services/orders/repositories"
)

// Server is the HTTP server for the API
type Server struct {
	cfg            config.Config
	router         *gin.Engine
	httpServer     *http.Server
	sessionHandler *handlers.SessionHandler
	orderHandler   *handlers.OrderHandler
	orders         repositories.OrderRepository
	sessions       repositories.SessionRepository
	rebuilder      *projections.Rebuilder
}

// NewServer creates a new API server
func NewServer(
	cfg config.Config,
	sessionHandler *handlers.SessionHandler,
	orderHandler *handlers.OrderHandler,
	orders repositories.OrderRepository,
	sessions repositories.SessionRepository,
	rebuilder *projections.Rebuilder,
) *Server {
	server := &Server{
		cfg:            cfg,
		router:         gin.Default(),
		sessionHandler: sessionHandler,
		orderHandler:   orderHandler,
		orders:         orders,
		sessions:       sessions,
		rebuilder:      rebuilder,
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	return server
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware() {
	// Add request ID middleware
	s.router.Use(RequestIDMiddleware())

	// Add CORS middleware
	if s.cfg.CorsEnabled {
		s.router.Use(CORSMiddleware(s.cfg.CorsOrigins))
	}

	// Add recovery middleware
	s.router.Use(gin.Recovery())

	// Add logging middleware
	s.router.Use(LoggingMiddleware())
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	// API v1 group
	v1 := s.router.Group("/api/v1")

	// Session routes
	sessionRoutes := v1.Group("/sessions")
	{
		sessionRoutes.POST("/commands", s.receiveSessionCommands)
		sessionRoutes.GET("/:id", s.getSession)
		sessionRoutes.GET("", s.getActiveSessionsForLocation)
	}

	// Order routes
	orderRoutes := v1.Group("/orders")
	{
		orderRoutes.POST("/commands", s.receiveOrderCommands)
		orderRoutes.GET("/:id", s.getOrder)
		orderRoutes.GET("/:id/history", s.getOrderStatusHistory)
		orderRoutes.GET("", s.getOrdersForLocation)
	}

	// Admin routes
	adminRoutes := v1.Group("/admin")
	{
		adminRoutes.POST("/projections/:name/rebuild", s.rebuildProjection)
	}
}

// rebuildProjection replays the full event log into a single projection.
// The projection's tables have a single writer: the worker's event
// processor must not be running the target projector while the rebuild
// runs. Operators stop the worker (or run it without the projector) and
// restart it once the rebuild completes.
func (s *Server) rebuildProjection(c *gin.Context) {
	name := c.Param("name")

	applied, err := s.rebuilder.Rebuild(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, projections.ErrRebuildInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("projector", name).Msg("Projection rebuild failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"projector": name, "events_applied": applied})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.HTTPServerAddress,
		Handler: s.router,
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.HTTPServerAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
