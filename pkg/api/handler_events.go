package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

// listEventsHandler handles GET /v1/events. Events are returned newest
// first; cursor is the event id of the last row of the previous page.
func (s *Server) listEventsHandler(c *echo.Context) error {
	f := storage.EventFilter{
		TenantID:    tenantID(c),
		ProjectID:   c.QueryParam("project_id"),
		AgentID:     c.QueryParam("agent_id"),
		TaskID:      c.QueryParam("task_id"),
		Environment: c.QueryParam("environment"),
		Group:       c.QueryParam("group"),
		Cursor:      c.QueryParam("cursor"),
	}

	if v := c.QueryParam("event_type"); v != "" {
		if !model.ValidEventType(v) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid event_type: "+v)
		}
		f.EventType = model.EventType(v)
	}
	if v := c.QueryParam("severity"); v != "" {
		if !model.ValidSeverity(v) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid severity: "+v)
		}
		f.Severity = model.Severity(v)
	}
	if v := c.QueryParam("payload_kind"); v != "" {
		f.PayloadKind = model.PayloadKind(v)
	}
	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since: must be RFC3339")
		}
		f.Since = &t
	}
	if v := c.QueryParam("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid until: must be RFC3339")
		}
		f.Until = &t
	}
	if v := c.QueryParam("exclude_heartbeats"); v == "true" || v == "1" {
		f.ExcludeHeartbeats = true
	}
	f.Limit = parseLimit(c, 100, 1000)

	events, hasMore, err := s.store.ListEvents(c.Request().Context(), f)
	if err != nil {
		return mapServiceError(err)
	}

	resp := &EventsResponse{Events: events, HasMore: hasMore}
	if hasMore && len(events) > 0 {
		resp.NextCursor = events[len(events)-1].EventID
	}
	return c.JSON(http.StatusOK, resp)
}
