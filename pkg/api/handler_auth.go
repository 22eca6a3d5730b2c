package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// loginHandler handles POST /auth/login.
func (s *Server) loginHandler(c *echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	u, err := s.userService.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return mapServiceError(err)
	}

	token, err := s.signToken(u.ID, u.Email, string(u.Role))
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"token": token,
		"user":  toUserResponse(u),
	})
}
