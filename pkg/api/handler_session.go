package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// getSessionHandler handles GET /api/v1/sessions/:user_id/:session_id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sess, err := s.sessionService.Get(c.Request().Context(), c.Param("user_id"), c.Param("session_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

// clearSessionHandler handles POST /api/v1/sessions/:user_id/:session_id/clear.
// Empties the turn log but keeps the session identity.
func (s *Server) clearSessionHandler(c *echo.Context) error {
	sess, err := s.sessionService.Clear(c.Request().Context(), c.Param("user_id"), c.Param("session_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sess)
}
