// Package api provides the HTTP surface: collector ingest endpoints and the
// JWT-protected dashboard API.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/motionlabs/cswatch/pkg/database"
	"github.com/motionlabs/cswatch/pkg/learning"
	"github.com/motionlabs/cswatch/pkg/services"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	deviceKey string
	jwtSecret string

	dbClient            *database.Client
	eventService        *services.EventService
	ticketService       *services.TicketService
	metricsService      *services.MetricsService
	notificationService *services.NotificationService
	userService         *services.UserService
	learningService     *learning.Service // nil when LLM is disabled
}

// NewServer creates the API server and registers all routes.
func NewServer(
	deviceKey, jwtSecret string,
	dbClient *database.Client,
	eventService *services.EventService,
	ticketService *services.TicketService,
	metricsService *services.MetricsService,
	notificationService *services.NotificationService,
	userService *services.UserService,
	learningService *learning.Service,
) *Server {
	e := echo.New()

	s := &Server{
		echo:                e,
		deviceKey:           deviceKey,
		jwtSecret:           jwtSecret,
		dbClient:            dbClient,
		eventService:        eventService,
		ticketService:       ticketService,
		metricsService:      metricsService,
		notificationService: notificationService,
		userService:         userService,
		learningService:     learningService,
	}

	s.setupRoutes()
	return s
}

// setupRoutes registers the full route table.
func (s *Server) setupRoutes() {
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)
	s.echo.POST("/auth/login", s.loginHandler)

	// Collector surface: shared-secret auth, envelope errors.
	device := s.echo.Group("/v1", s.deviceAuth())
	device.POST("/events", s.submitEventHandler)
	device.POST("/heartbeat", s.heartbeatHandler)

	// Dashboard surface: bearer auth.
	dash := s.echo.Group("/v1", s.jwtAuth())
	dash.GET("/tickets", s.listTicketsHandler)
	dash.GET("/tickets/:id", s.getTicketHandler)
	dash.GET("/tickets/:id/events", s.listTicketEventsHandler)
	dash.PATCH("/tickets/:id", s.patchTicketHandler)

	dash.GET("/metrics/overview", s.metricsOverviewHandler)

	dash.GET("/learning/understanding", s.latestUnderstandingHandler)
	dash.GET("/learning/understanding/:version", s.getUnderstandingHandler)
	dash.GET("/learning/history", s.learningHistoryHandler)
	dash.POST("/learning/run", s.runLearningHandler, adminOnly())

	dash.GET("/notifications", s.listNotificationsHandler)
	dash.POST("/notifications/:id/read", s.markNotificationReadHandler)
	dash.POST("/notifications/read-all", s.markAllNotificationsReadHandler)

	dash.GET("/users", s.listUsersHandler, adminOnly())
	dash.POST("/users", s.createUserHandler, adminOnly())
	dash.DELETE("/users/:id", s.deleteUserHandler, adminOnly())
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
