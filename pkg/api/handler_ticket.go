package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/motionlabs/cswatch/pkg/models"
)

// listTicketsHandler handles GET /v1/tickets.
func (s *Server) listTicketsHandler(c *echo.Context) error {
	params := models.TicketListParams{
		Page:  1,
		Limit: 25,
	}

	if v := c.QueryParam("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			params.Page = p
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= 100 {
			params.Limit = l
		}
	}
	params.Status = c.QueryParam("status")
	params.Priority = c.QueryParam("priority")
	params.ClinicKey = c.QueryParam("clinic_key")
	if v := c.QueryParam("sla_breached"); v != "" {
		breached, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "sla_breached must be a boolean")
		}
		params.SLABreached = &breached
	}

	items, total, err := s.ticketService.ListTickets(c.Request().Context(), params)
	if err != nil {
		return mapServiceError(err)
	}

	now := time.Now().UTC()
	resp := ticketListResponse{
		Items: make([]ticketResponse, 0, len(items)),
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
	}
	for _, t := range items {
		resp.Items = append(resp.Items, s.toTicketResponse(t, now))
	}
	return c.JSON(http.StatusOK, resp)
}

// getTicketHandler handles GET /v1/tickets/:id.
func (s *Server) getTicketHandler(c *echo.Context) error {
	t, err := s.ticketService.GetTicket(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, s.toTicketResponse(t, time.Now().UTC()))
}

// listTicketEventsHandler handles GET /v1/tickets/:id/events.
func (s *Server) listTicketEventsHandler(c *echo.Context) error {
	events, err := s.ticketService.ListTicketEvents(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	resp := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, toEventResponse(ev))
	}
	return c.JSON(http.StatusOK, map[string]any{"items": resp})
}

// patchTicketHandler handles PATCH /v1/tickets/:id.
func (s *Server) patchTicketHandler(c *echo.Context) error {
	var req patchTicketRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Status == nil && req.Priority == nil && req.NextAction == nil && req.NeedsReply == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no fields to update")
	}

	t, err := s.ticketService.UpdateTicket(c.Request().Context(), c.Param("id"), models.TicketPatch{
		Status:     req.Status,
		Priority:   req.Priority,
		NextAction: req.NextAction,
		NeedsReply: req.NeedsReply,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, s.toTicketResponse(t, time.Now().UTC()))
}
