package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/motionlabs/cswatch/ent/learningexecution"
)

// latestUnderstandingHandler handles GET /v1/learning/understanding.
func (s *Server) latestUnderstandingHandler(c *echo.Context) error {
	if s.learningService == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "learning is disabled")
	}
	u, err := s.learningService.Latest(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, toUnderstandingResponse(u))
}

// getUnderstandingHandler handles GET /v1/learning/understanding/:version.
func (s *Server) getUnderstandingHandler(c *echo.Context) error {
	if s.learningService == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "learning is disabled")
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "version must be a positive integer")
	}
	u, err := s.learningService.GetVersion(c.Request().Context(), version)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, toUnderstandingResponse(u))
}

// learningHistoryHandler handles GET /v1/learning/history.
func (s *Server) learningHistoryHandler(c *echo.Context) error {
	if s.learningService == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "learning is disabled")
	}
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	execs, err := s.learningService.History(c.Request().Context(), limit)
	if err != nil {
		return mapServiceError(err)
	}

	resp := make([]executionResponse, 0, len(execs))
	for _, e := range execs {
		resp = append(resp, toExecutionResponse(e))
	}
	return c.JSON(http.StatusOK, map[string]any{"items": resp})
}

// runLearningHandler handles POST /v1/learning/run (admin).
func (s *Server) runLearningHandler(c *echo.Context) error {
	if s.learningService == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "learning is disabled")
	}
	exec, err := s.learningService.Run(c.Request().Context(), learningexecution.TriggerTypeManual)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, toExecutionResponse(exec))
}
