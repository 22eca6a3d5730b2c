package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// metricsOverviewHandler handles GET /v1/metrics/overview.
func (s *Server) metricsOverviewHandler(c *echo.Context) error {
	overview, err := s.metricsService.Overview(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, overview)
}
