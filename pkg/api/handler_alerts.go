package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/loophive/hiveboard/pkg/model"
)

// listAlertRulesHandler handles GET /v1/alerts/rules.
func (s *Server) listAlertRulesHandler(c *echo.Context) error {
	rules, err := s.store.ListAlertRules(c.Request().Context(), tenantID(c), false)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &AlertRulesResponse{Rules: rules, Count: len(rules)})
}

// createAlertRuleHandler handles POST /v1/alerts/rules.
func (s *Server) createAlertRuleHandler(c *echo.Context) error {
	var req AlertRuleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if !model.ValidAlertCondition(req.Condition) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid condition: "+req.Condition)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	now := time.Now().UTC()
	rule := &model.AlertRule{
		ID:              uuid.NewString(),
		TenantID:        tenantID(c),
		ProjectID:       req.ProjectID,
		Name:            req.Name,
		Condition:       model.AlertCondition(req.Condition),
		Config:          req.Config,
		Filters:         req.Filters,
		Actions:         req.Actions,
		CooldownSeconds: req.CooldownSeconds,
		Enabled:         enabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateAlertRule(c.Request().Context(), rule); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, rule)
}

// updateAlertRuleHandler handles PUT /v1/alerts/rules/:id.
func (s *Server) updateAlertRuleHandler(c *echo.Context) error {
	var req AlertRuleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	rule, err := s.store.GetAlertRule(ctx, tenantID(c), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.Condition != "" {
		if !model.ValidAlertCondition(req.Condition) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid condition: "+req.Condition)
		}
		rule.Condition = model.AlertCondition(req.Condition)
	}
	if req.ProjectID != nil {
		rule.ProjectID = req.ProjectID
	}
	if req.Config != nil {
		rule.Config = req.Config
	}
	if req.Filters != nil {
		rule.Filters = req.Filters
	}
	if req.Actions != nil {
		rule.Actions = req.Actions
	}
	if req.CooldownSeconds > 0 {
		rule.CooldownSeconds = req.CooldownSeconds
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateAlertRule(ctx, rule); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, rule)
}

// deleteAlertRuleHandler handles DELETE /v1/alerts/rules/:id.
func (s *Server) deleteAlertRuleHandler(c *echo.Context) error {
	if err := s.store.DeleteAlertRule(c.Request().Context(), tenantID(c), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// alertHistoryHandler handles GET /v1/alerts/history.
func (s *Server) alertHistoryHandler(c *echo.Context) error {
	limit := parseLimit(c, 100, 500)
	recs, err := s.store.ListAlertHistory(c.Request().Context(), tenantID(c), c.QueryParam("rule_id"), limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &AlertHistoryResponse{History: recs, Count: len(recs)})
}
