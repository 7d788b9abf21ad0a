// Package api is the HTTP surface: the ingest endpoint, the read API,
// project and alert-rule management, pricing administration, and the
// WebSocket stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loophive/hiveboard/pkg/auth"
	"github.com/loophive/hiveboard/pkg/ingest"
	"github.com/loophive/hiveboard/pkg/pricing"
	"github.com/loophive/hiveboard/pkg/query"
	"github.com/loophive/hiveboard/pkg/storage"
	"github.com/loophive/hiveboard/pkg/stream"
)

// Server wires the service layer to HTTP routes.
type Server struct {
	store    storage.Store
	pipeline *ingest.Pipeline
	query    *query.Service
	streams  *stream.Manager
	pricing  *pricing.Engine
	auth     *auth.Authenticator
	logger   *slog.Logger

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer builds the server and registers all routes.
func NewServer(
	store storage.Store,
	pipeline *ingest.Pipeline,
	querySvc *query.Service,
	streams *stream.Manager,
	pricingEng *pricing.Engine,
	authenticator *auth.Authenticator,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:    store,
		pipeline: pipeline,
		query:    querySvc,
		streams:  streams,
		pricing:  pricingEng,
		auth:     authenticator,
		logger:   logger.With("component", "api"),
	}
	s.echo = echo.New()
	s.echo.HTTPErrorHandler = s.httpErrorHandler
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.Use(securityHeaders())
	e.Use(s.requestMetrics())
	e.Use(s.auth.Middleware())

	e.GET("/health", s.healthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/v1/ingest", s.ingestHandler)

	e.GET("/v1/agents", s.listAgentsHandler)
	e.GET("/v1/agents/:id", s.getAgentHandler)
	e.GET("/v1/agents/:id/pipeline", s.agentPipelineHandler)
	e.GET("/v1/pipeline", s.fleetPipelineHandler)

	e.GET("/v1/tasks", s.listTasksHandler)
	e.GET("/v1/tasks/:id/timeline", s.taskTimelineHandler)

	e.GET("/v1/events", s.listEventsHandler)
	e.GET("/v1/metrics", s.metricsHandler)

	e.GET("/v1/cost", s.costSummaryHandler)
	e.GET("/v1/cost/calls", s.costCallsHandler)
	e.GET("/v1/cost/timeseries", s.costTimeseriesHandler)
	e.GET("/v1/llm-calls", s.costCallsHandler)

	e.GET("/v1/projects", s.listProjectsHandler)
	e.POST("/v1/projects", s.createProjectHandler)
	e.GET("/v1/projects/:id", s.getProjectHandler)
	e.PUT("/v1/projects/:id", s.updateProjectHandler)
	e.DELETE("/v1/projects/:id", s.deleteProjectHandler)
	e.POST("/v1/projects/:id/archive", s.archiveProjectHandler)
	e.POST("/v1/projects/:id/unarchive", s.unarchiveProjectHandler)
	e.POST("/v1/projects/:id/merge", s.mergeProjectHandler)
	e.GET("/v1/projects/:id/agents", s.listProjectAgentsHandler)
	e.POST("/v1/projects/:id/agents", s.addProjectAgentHandler)
	e.DELETE("/v1/projects/:id/agents/:agent_id", s.removeProjectAgentHandler)

	e.GET("/v1/alerts/rules", s.listAlertRulesHandler)
	e.POST("/v1/alerts/rules", s.createAlertRuleHandler)
	e.PUT("/v1/alerts/rules/:id", s.updateAlertRuleHandler)
	e.DELETE("/v1/alerts/rules/:id", s.deleteAlertRuleHandler)
	e.GET("/v1/alerts/history", s.alertHistoryHandler)

	e.GET("/v1/admin/pricing", s.listPricingHandler)
	e.POST("/v1/admin/pricing", s.createPricingHandler)
	e.PUT("/v1/admin/pricing/:pattern", s.updatePricingHandler)
	e.DELETE("/v1/admin/pricing/:pattern", s.deletePricingHandler)

	e.GET("/v1/stream", s.streamHandler)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves HTTP on addr and blocks until the listener fails or the
// server is shut down.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// tenantID returns the authenticated tenant set by the auth middleware.
func tenantID(c *echo.Context) string {
	v, _ := c.Get(auth.ContextTenantID).(string)
	return v
}
