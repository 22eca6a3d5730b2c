package api

import (
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/motionlabs/cswatch/pkg/models"
)

// submitEventHandler handles POST /v1/events from the collector.
func (s *Server) submitEventHandler(c *echo.Context) error {
	var req submitEventRequest
	if err := c.Bind(&req); err != nil {
		return collectorError(c, http.StatusBadRequest, codeValidationError, "malformed request body")
	}

	receivedAt, err := time.Parse(time.RFC3339, req.ReceivedAt)
	if err != nil {
		return collectorError(c, http.StatusBadRequest, codeValidationError, "received_at must be RFC 3339")
	}

	result, err := s.eventService.Submit(c.Request().Context(), models.SubmitEventInput{
		DeviceID:       req.DeviceID,
		ChatRoom:       req.ChatRoom,
		SenderName:     req.SenderName,
		TextRaw:        req.Text,
		ReceivedAt:     receivedAt,
		NotificationID: req.NotificationID,
	})
	if err != nil {
		return mapCollectorError(c, err)
	}

	return c.JSON(http.StatusOK, envelope{
		OK:      true,
		EventID: result.EventID,
		Deduped: &result.Deduped,
	})
}

// heartbeatHandler handles POST /v1/heartbeat. Heartbeats are acknowledged
// and logged; nothing downstream consumes them.
func (s *Server) heartbeatHandler(c *echo.Context) error {
	var req heartbeatRequest
	if err := c.Bind(&req); err != nil {
		return collectorError(c, http.StatusBadRequest, codeValidationError, "malformed request body")
	}
	if req.DeviceID == "" {
		return collectorError(c, http.StatusBadRequest, codeValidationError, "device_id is required")
	}

	slog.Debug("Collector heartbeat", "device_id", req.DeviceID, "ts", req.TS)
	return c.JSON(http.StatusOK, envelope{OK: true})
}
