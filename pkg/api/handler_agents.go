package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/query"
)

// listAgentsHandler handles GET /v1/agents.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	f := query.AgentFilter{
		ProjectID:   c.QueryParam("project_id"),
		Environment: c.QueryParam("environment"),
		Group:       c.QueryParam("group"),
	}
	if v := c.QueryParam("status"); v != "" {
		switch model.AgentStatus(v) {
		case model.AgentStuck, model.AgentError, model.AgentWaitingApproval, model.AgentProcessing, model.AgentIdle:
			f.Status = model.AgentStatus(v)
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+v)
		}
	}

	agents, err := s.query.ListAgentViews(c.Request().Context(), tenantID(c), f)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &AgentsResponse{Agents: agents, Count: len(agents)})
}

// getAgentHandler handles GET /v1/agents/:id.
func (s *Server) getAgentHandler(c *echo.Context) error {
	agentID := c.Param("id")
	if agentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent id is required")
	}

	view, err := s.query.GetAgentView(c.Request().Context(), tenantID(c), agentID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// agentPipelineHandler handles GET /v1/agents/:id/pipeline.
func (s *Server) agentPipelineHandler(c *echo.Context) error {
	agentID := c.Param("id")
	if agentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent id is required")
	}

	view, err := s.query.AgentPipeline(c.Request().Context(), tenantID(c), agentID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// fleetPipelineHandler handles GET /v1/pipeline: the pipeline view
// aggregated over every agent of the tenant.
func (s *Server) fleetPipelineHandler(c *echo.Context) error {
	view, err := s.query.FleetPipeline(c.Request().Context(), tenantID(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, view)
}
