package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/loophive/hiveboard/pkg/query"
)

// metricsHandler handles GET /v1/metrics. Range, interval and group_by
// are validated by the query service.
func (s *Server) metricsHandler(c *echo.Context) error {
	f := query.MetricsFilter{
		Range:       c.QueryParam("range"),
		Interval:    c.QueryParam("interval"),
		GroupBy:     c.QueryParam("group_by"),
		AgentID:     c.QueryParam("agent_id"),
		ProjectID:   c.QueryParam("project_id"),
		Environment: c.QueryParam("environment"),
	}

	resp, err := s.query.Metrics(c.Request().Context(), tenantID(c), f)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func costFilter(c *echo.Context) query.CostFilter {
	return query.CostFilter{
		Range:       c.QueryParam("range"),
		Interval:    c.QueryParam("interval"),
		AgentID:     c.QueryParam("agent_id"),
		ProjectID:   c.QueryParam("project_id"),
		Environment: c.QueryParam("environment"),
		Cursor:      c.QueryParam("cursor"),
		Limit:       parseLimit(c, 50, 200),
	}
}

// costSummaryHandler handles GET /v1/cost.
func (s *Server) costSummaryHandler(c *echo.Context) error {
	summary, err := s.query.Cost(c.Request().Context(), tenantID(c), costFilter(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

// costCallsHandler handles GET /v1/cost/calls and its /v1/llm-calls alias.
func (s *Server) costCallsHandler(c *echo.Context) error {
	calls, hasMore, err := s.query.CostCalls(c.Request().Context(), tenantID(c), costFilter(c))
	if err != nil {
		return mapServiceError(err)
	}

	resp := &CostCallsResponse{Calls: calls, HasMore: hasMore}
	if hasMore && len(calls) > 0 {
		resp.NextCursor = calls[len(calls)-1].EventID
	}
	return c.JSON(http.StatusOK, resp)
}

// costTimeseriesHandler handles GET /v1/cost/timeseries.
func (s *Server) costTimeseriesHandler(c *echo.Context) error {
	buckets, err := s.query.CostTimeseries(c.Request().Context(), tenantID(c), costFilter(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"timeseries": buckets})
}
