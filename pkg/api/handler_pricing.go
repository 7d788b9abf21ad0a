package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/loophive/hiveboard/pkg/model"
)

// listPricingHandler handles GET /v1/admin/pricing.
func (s *Server) listPricingHandler(c *echo.Context) error {
	entries := s.pricing.List()
	return c.JSON(http.StatusOK, &PricingResponse{Entries: entries, Count: len(entries)})
}

// createPricingHandler handles POST /v1/admin/pricing.
func (s *Server) createPricingHandler(c *echo.Context) error {
	var entry model.PricingEntry
	if err := c.Bind(&entry); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if entry.ModelPattern == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model_pattern is required")
	}
	if entry.InputPerMTokens < 0 || entry.OutputPerMTokens < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "token prices must not be negative")
	}

	if err := s.pricing.Add(entry); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// updatePricingHandler handles PUT /v1/admin/pricing/:pattern.
func (s *Server) updatePricingHandler(c *echo.Context) error {
	var entry model.PricingEntry
	if err := c.Bind(&entry); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if entry.ModelPattern == "" {
		entry.ModelPattern = c.Param("pattern")
	}

	if err := s.pricing.Update(c.Param("pattern"), entry); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// deletePricingHandler handles DELETE /v1/admin/pricing/:pattern.
func (s *Server) deletePricingHandler(c *echo.Context) error {
	if err := s.pricing.Delete(c.Param("pattern")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
