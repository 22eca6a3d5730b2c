package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/motionlabs/cswatch/pkg/services"
)

// listUsersHandler handles GET /v1/users (admin).
func (s *Server) listUsersHandler(c *echo.Context) error {
	users, err := s.userService.ListUsers(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	return c.JSON(http.StatusOK, map[string]any{"items": resp})
}

// createUserHandler handles POST /v1/users (admin).
func (s *Server) createUserHandler(c *echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	u, err := s.userService.CreateUser(c.Request().Context(), services.CreateUserInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, toUserResponse(u))
}

// deleteUserHandler handles DELETE /v1/users/:id (admin).
func (s *Server) deleteUserHandler(c *echo.Context) error {
	if err := s.userService.DeleteUser(c.Request().Context(), c.Param("id"), callerID(c)); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}
