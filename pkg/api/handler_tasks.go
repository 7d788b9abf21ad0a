package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/query"
)

// listTasksHandler handles GET /v1/tasks.
func (s *Server) listTasksHandler(c *echo.Context) error {
	f := query.TaskFilter{
		ProjectID:   c.QueryParam("project_id"),
		AgentID:     c.QueryParam("agent_id"),
		Environment: c.QueryParam("environment"),
		Cursor:      c.QueryParam("cursor"),
	}

	if v := c.QueryParam("status"); v != "" {
		switch model.TaskStatus(v) {
		case model.TaskCompleted, model.TaskFailed, model.TaskEscalated, model.TaskWaiting, model.TaskProcessing:
			f.Status = model.TaskStatus(v)
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+v)
		}
	}
	if v := c.QueryParam("sort"); v != "" {
		switch v {
		case "newest", "oldest", "duration", "cost":
			f.Sort = v
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid sort: must be newest, oldest, duration, or cost")
		}
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
	f.Limit = parseLimit(c, 50, 200)

	tasks, hasMore, err := s.query.ListTasks(c.Request().Context(), tenantID(c), f)
	if err != nil {
		return mapServiceError(err)
	}

	resp := &TasksResponse{Tasks: tasks, HasMore: hasMore}
	if hasMore && len(tasks) > 0 {
		resp.NextCursor = tasks[len(tasks)-1].TaskID
	}
	return c.JSON(http.StatusOK, resp)
}

// taskTimelineHandler handles GET /v1/tasks/:id/timeline.
func (s *Server) taskTimelineHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task id is required")
	}

	timeline, err := s.query.GetTaskTimeline(c.Request().Context(), tenantID(c), taskID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, timeline)
}

// parseLimit reads the limit query parameter, clamped to max.
func parseLimit(c *echo.Context, def, max int) int {
	v := c.QueryParam("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
