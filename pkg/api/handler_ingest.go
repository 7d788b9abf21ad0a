package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/loophive/hiveboard/pkg/model"
)

// ingestHandler handles POST /v1/ingest. A batch where every event was
// accepted returns 200; a batch with any rejection returns 207 with
// per-event errors.
func (s *Server) ingestHandler(c *echo.Context) error {
	if c.Request().ContentLength > model.MaxBatchBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch exceeds maximum size of %d bytes", model.MaxBatchBytes))
	}

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := s.pipeline.Process(c.Request().Context(), tenantID(c), req.Envelope, req.Events)
	if err != nil {
		return mapServiceError(err)
	}

	status := http.StatusOK
	if res.Rejected > 0 {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, res)
}
