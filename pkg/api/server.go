package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/cortexd/cortexd/pkg/apps"
	"github.com/cortexd/cortexd/pkg/database"
	"github.com/cortexd/cortexd/pkg/energy"
	"github.com/cortexd/cortexd/pkg/events"
	"github.com/cortexd/cortexd/pkg/services"
)

// LoopControl is the slice of the scheduler loop the admin endpoints use.
type LoopControl interface {
	TriggerReflection(ctx context.Context) error
	ProcessConversation(requestID string)
}

// Deps carries everything the HTTP edge talks to.
type Deps struct {
	DBClient      *database.Client
	Conversations *services.ConversationService
	Stats         *services.StatsService
	Registry      *apps.Registry
	Regulator     *energy.Regulator
	Bus           *events.Bus
	ConnManager   *events.ConnectionManager
	Loop          LoopControl

	// AllowedWSOrigins restricts WebSocket upgrades; empty allows any.
	AllowedWSOrigins []string
}

// Server is the HTTP edge: REST endpoints plus the WebSocket event bridge.
type Server struct {
	dbClient      *database.Client
	conversations *services.ConversationService
	stats         *services.StatsService
	registry      *apps.Registry
	regulator     *energy.Regulator
	bus           *events.Bus
	connManager   *events.ConnectionManager
	loop          LoopControl

	allowedOrigins []string

	echo       *echo.Echo
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the server and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		dbClient:       deps.DBClient,
		conversations:  deps.Conversations,
		stats:          deps.Stats,
		registry:       deps.Registry,
		regulator:      deps.Regulator,
		bus:            deps.Bus,
		connManager:    deps.ConnManager,
		loop:           deps.Loop,
		allowedOrigins: deps.AllowedWSOrigins,
		logger:         slog.Default().With("component", "api"),
	}

	e := echo.New()
	e.Use(recoverPanics(s.logger))
	e.Use(requestLogger(s.logger))
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/messages", s.submitMessageHandler)
	v1.GET("/conversations", s.listConversationsHandler)
	v1.GET("/conversations/:id", s.getConversationHandler)
	v1.GET("/energy", s.energyHandler)
	v1.GET("/stats", s.statsHandler)
	v1.POST("/apps", s.installAppHandler)
	v1.GET("/apps", s.listAppsHandler)
	v1.DELETE("/apps/:id", s.uninstallAppHandler)
	v1.GET("/apps/:id/energy", s.appEnergyHandler)
	v1.POST("/admin/reflect", s.triggerReflectionHandler)
	v1.POST("/admin/process/:id", s.processConversationHandler)
	v1.GET("/ws", s.wsHandler)

	s.echo = e
	return s
}

// Start runs the HTTP server on addr. Blocks until Shutdown or failure.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
