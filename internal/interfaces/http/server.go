// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/garyjia/idea-hub/internal/application/service"
	"github.com/garyjia/idea-hub/internal/application/workflow"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// RequestMetrics observes HTTP traffic and exposes the scrape endpoint
type RequestMetrics interface {
	RequestStarted(method, route string) func(status int)
	Handler() http.Handler
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimit    float64
	RateBurst    int
	CORSOrigins  []string
	Auth         AuthConfig
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		RateLimit:    20,
		RateBurst:    40,
		CORSOrigins:  []string{"*"},
	}
}

// Dependencies are the application services behind the routes
type Dependencies struct {
	Ideas         service.IdeaService
	Reviews       service.ReviewService
	Assignments   service.AssignmentService
	Engine        workflow.WorkflowEngine
	Notifications service.NotificationService
	SLA           service.SLAService
	Dashboard     service.DashboardService
	Audit         service.AuditService
	Users         service.UserService

	// Metrics is optional; /metrics is only mounted when set
	Metrics RequestMetrics

	ExportContentType   string
	ExportFileExtension string

	// Health reports component status for /health; optional
	Health func(ctx context.Context) (bool, interface{})

	// Now overrides the clock used for SLA and dashboard reads
	Now func() time.Time
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, deps Dependencies, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ExportContentType == "" {
		deps.ExportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		deps.ExportFileExtension = "xlsx"
	}

	server := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	if s.deps.Metrics != nil {
		s.router.Use(metricsMiddleware(s.deps.Metrics))
	}

	corsConfig := cors.DefaultConfig()
	if len(s.config.CORSOrigins) == 0 || (len(s.config.CORSOrigins) == 1 && s.config.CORSOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.config.CORSOrigins
	}
	corsConfig.AddAllowHeaders("Authorization", HeaderRequestID,
		HeaderUserID, HeaderUserEmail, HeaderUserName, HeaderUserRole)
	corsConfig.AddExposeHeaders(HeaderRequestID, "Content-Disposition")
	s.router.Use(cors.New(corsConfig))
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.deps, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := s.router.Group("/api")
	api.Use(authMiddleware(s.config.Auth))
	if s.config.RateLimit > 0 {
		api.Use(rateLimitMiddleware(newClientLimiter(s.config.RateLimit, s.config.RateBurst)))
	}

	// Ideas
	api.POST("/ideas", h.SubmitIdea)
	api.GET("/ideas", h.ListIdeas)
	api.GET("/ideas/export", h.ExportIdeas)
	api.GET("/ideas/:id", h.GetIdea)
	api.GET("/ideas/:id/history", h.IdeaHistory)
	api.GET("/ideas/:id/duplicates", h.IdeaDuplicates)
	api.GET("/ideas/:id/actions", h.IdeaActions)
	api.POST("/ideas/:id/route", h.RouteIdea)

	// Reviews
	api.POST("/reviews", h.CreateReview)
	api.GET("/reviews", h.ListReviews)

	// Assignments and marketplace
	api.POST("/ideas/:id/invitations", h.InviteDeveloper)
	api.POST("/ideas/:id/listing", h.ListOnMarketplace)
	api.PUT("/assignments/:id", h.RespondToInvitation)
	api.GET("/assignments", h.ListAssignments)
	api.GET("/assignments/:id", h.GetAssignment)
	api.GET("/assignments/:id/history", h.AssignmentHistory)
	api.GET("/marketplace", h.Marketplace)
	api.POST("/marketplace/:ideaId/claim", h.ClaimListing)

	// Read models
	api.GET("/dashboard", h.Dashboard)
	api.GET("/sla", h.SLASummary)
	api.GET("/sla/overdue", h.SLAOverdue)

	// User directory
	api.GET("/users", h.ListUsers)
	api.POST("/users", h.CreateUser)
	api.GET("/users/:id", h.GetUser)

	// Notifications and audit
	api.GET("/notifications", h.ListNotifications)
	api.POST("/notifications/:id/retry", h.RetryNotification)
	api.GET("/audit", h.AuditHistory)
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
