package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/loophive/hiveboard/pkg/model"
)

// listProjectsHandler handles GET /v1/projects.
func (s *Server) listProjectsHandler(c *echo.Context) error {
	includeArchived := c.QueryParam("include_archived") == "true"

	projects, err := s.store.ListProjects(c.Request().Context(), tenantID(c), includeArchived)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ProjectsResponse{Projects: projects, Count: len(projects)})
}

// createProjectHandler handles POST /v1/projects.
func (s *Server) createProjectHandler(c *echo.Context) error {
	var req ProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	slug := req.Slug
	if slug == "" {
		slug = slugify(req.Name)
	}

	ctx := c.Request().Context()
	tenant := tenantID(c)

	count, err := s.store.CountProjects(ctx, tenant)
	if err != nil {
		return mapServiceError(err)
	}
	if count >= model.MaxProjectsPerTenant {
		return newAPIError(http.StatusBadRequest, "project_limit_reached", "tenant has reached its project limit")
	}

	now := time.Now().UTC()
	project := &model.Project{
		ID:          uuid.NewString(),
		TenantID:    tenant,
		Name:        req.Name,
		Slug:        slug,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, project)
}

// getProjectHandler handles GET /v1/projects/:id.
func (s *Server) getProjectHandler(c *echo.Context) error {
	project, err := s.store.GetProject(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, project)
}

// updateProjectHandler handles PUT /v1/projects/:id. The slug is
// immutable; name and description can change.
func (s *Server) updateProjectHandler(c *echo.Context) error {
	var req ProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	project, err := s.store.GetProject(ctx, tenantID(c), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	if req.Name != "" {
		project.Name = req.Name
	}
	if req.Description != "" {
		project.Description = req.Description
	}
	project.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateProject(ctx, project); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, project)
}

// deleteProjectHandler handles DELETE /v1/projects/:id. Deletion is
// archival: events are reassigned to the default project and the
// project is archived. The default project cannot be deleted.
func (s *Server) deleteProjectHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	tenant := tenantID(c)

	project, err := s.store.GetProject(ctx, tenant, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	if project.Slug == model.DefaultProjectSlug {
		return newAPIError(http.StatusBadRequest, "cannot_delete_default_project", "the default project cannot be deleted")
	}

	def, err := s.store.GetProjectBySlug(ctx, tenant, model.DefaultProjectSlug)
	if err != nil {
		return mapServiceError(err)
	}

	moved, err := s.store.ReassignProjectEvents(ctx, tenant, project.ID, def.ID)
	if err != nil {
		return mapServiceError(err)
	}

	project.Archived = true
	project.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateProject(ctx, project); err != nil {
		return mapServiceError(err)
	}

	s.logger.Info("project deleted", "tenant_id", tenant, "project_id", project.ID, "moved_events", moved)
	return c.JSON(http.StatusOK, &MergeResponse{
		SourceProjectID: project.ID,
		TargetProjectID: def.ID,
		MovedEvents:     moved,
	})
}

// archiveProjectHandler handles POST /v1/projects/:id/archive.
func (s *Server) archiveProjectHandler(c *echo.Context) error {
	return s.setProjectArchived(c, true)
}

// unarchiveProjectHandler handles POST /v1/projects/:id/unarchive.
func (s *Server) unarchiveProjectHandler(c *echo.Context) error {
	return s.setProjectArchived(c, false)
}

func (s *Server) setProjectArchived(c *echo.Context, archived bool) error {
	ctx := c.Request().Context()
	project, err := s.store.GetProject(ctx, tenantID(c), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	if archived && project.Slug == model.DefaultProjectSlug {
		return newAPIError(http.StatusBadRequest, "cannot_archive_default_project", "the default project cannot be archived")
	}

	project.Archived = archived
	project.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateProject(ctx, project); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, project)
}

// mergeProjectHandler handles POST /v1/projects/:id/merge. Events move
// to the target project and the source is archived.
func (s *Server) mergeProjectHandler(c *echo.Context) error {
	var req MergeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TargetProjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target_project_id is required")
	}

	ctx := c.Request().Context()
	tenant := tenantID(c)

	source, err := s.store.GetProject(ctx, tenant, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	if source.ID == req.TargetProjectID {
		return newAPIError(http.StatusBadRequest, "cannot_merge_into_self", "a project cannot be merged into itself")
	}
	if source.Slug == model.DefaultProjectSlug {
		return newAPIError(http.StatusBadRequest, "cannot_merge_default_project", "the default project cannot be merged away")
	}

	target, err := s.store.GetProject(ctx, tenant, req.TargetProjectID)
	if err != nil {
		return mapServiceError(err)
	}

	moved, err := s.store.ReassignProjectEvents(ctx, tenant, source.ID, target.ID)
	if err != nil {
		return mapServiceError(err)
	}

	source.Archived = true
	source.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateProject(ctx, source); err != nil {
		return mapServiceError(err)
	}

	s.logger.Info("project merged",
		"tenant_id", tenant, "source_id", source.ID, "target_id", target.ID, "moved_events", moved)
	return c.JSON(http.StatusOK, &MergeResponse{
		SourceProjectID: source.ID,
		TargetProjectID: target.ID,
		MovedEvents:     moved,
	})
}

// listProjectAgentsHandler handles GET /v1/projects/:id/agents.
func (s *Server) listProjectAgentsHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	project, err := s.store.GetProject(ctx, tenantID(c), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	ids, err := s.store.ListProjectAgents(ctx, project.TenantID, project.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ProjectAgentsResponse{ProjectID: project.ID, AgentIDs: ids})
}

// addProjectAgentHandler handles POST /v1/projects/:id/agents.
func (s *Server) addProjectAgentHandler(c *echo.Context) error {
	var req ProjectAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AgentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id is required")
	}

	ctx := c.Request().Context()
	project, err := s.store.GetProject(ctx, tenantID(c), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	if err := s.store.EnsureProjectAgent(ctx, project.TenantID, project.ID, req.AgentID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, &model.ProjectAgent{
		TenantID:  project.TenantID,
		ProjectID: project.ID,
		AgentID:   req.AgentID,
	})
}

// removeProjectAgentHandler handles DELETE /v1/projects/:id/agents/:agent_id.
func (s *Server) removeProjectAgentHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	project, err := s.store.GetProject(ctx, tenantID(c), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	if err := s.store.DeleteProjectAgent(ctx, project.TenantID, project.ID, c.Param("agent_id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// slugify derives a slug from a project name.
func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '_', r == '-':
			return '-'
		default:
			return -1
		}
	}, slug)
	return strings.Trim(slug, "-")
}
