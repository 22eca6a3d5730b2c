package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// listNotificationsHandler handles GET /v1/notifications.
func (s *Server) listNotificationsHandler(c *echo.Context) error {
	unreadOnly := false
	if v := c.QueryParam("unread_only"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unread_only must be a boolean")
		}
		unreadOnly = parsed
	}
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}

	items, err := s.notificationService.List(c.Request().Context(), unreadOnly, limit)
	if err != nil {
		return mapServiceError(err)
	}

	resp := make([]notificationResponse, 0, len(items))
	for _, n := range items {
		resp = append(resp, toNotificationResponse(n))
	}
	return c.JSON(http.StatusOK, map[string]any{"items": resp})
}

// markNotificationReadHandler handles POST /v1/notifications/:id/read.
func (s *Server) markNotificationReadHandler(c *echo.Context) error {
	if err := s.notificationService.MarkRead(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

// markAllNotificationsReadHandler handles POST /v1/notifications/read-all.
func (s *Server) markAllNotificationsReadHandler(c *echo.Context) error {
	updated, err := s.notificationService.MarkAllRead(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "updated": updated})
}
