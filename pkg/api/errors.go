package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/motionlabs/cswatch/pkg/services"
)

// Collector error envelope codes.
const (
	codeUnauthorized    = "UNAUTHORIZED"
	codeValidationError = "VALIDATION_ERROR"
	codeInternalError   = "INTERNAL_ERROR"
)

// envelopeError is the error half of the collector envelope.
type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope is the collector response shape: {ok, ...} or {ok:false, error}.
type envelope struct {
	OK      bool           `json:"ok"`
	EventID string         `json:"event_id,omitempty"`
	Deduped *bool          `json:"deduped,omitempty"`
	Error   *envelopeError `json:"error,omitempty"`
}

// collectorError writes the collector error envelope.
func collectorError(c *echo.Context, status int, code, message string) error {
	return c.JSON(status, envelope{
		OK:    false,
		Error: &envelopeError{Code: code, Message: message},
	})
}

// mapCollectorError maps service errors onto the collector envelope.
func mapCollectorError(c *echo.Context, err error) error {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return collectorError(c, http.StatusBadRequest, codeValidationError, validErr.Error())
	}
	slog.Error("Ingest failed", "error", err)
	return collectorError(c, http.StatusInternalServerError, codeInternalError, "internal error")
}

// mapServiceError maps service-layer errors to dashboard HTTP errors.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, services.ErrAlreadyRunning) {
		return echo.NewHTTPError(http.StatusConflict, "already running")
	}
	if errors.Is(err, services.ErrUnauthorized) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if errors.Is(err, services.ErrForbidden) {
		return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
