package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// getRegistryHandler handles GET /api/v1/registry.
// Returns the current snapshot summary without centroids or examples.
func (s *Server) getRegistryHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.registryService.Snapshot())
}

// refreshRegistryHandler handles POST /api/v1/registry/refresh.
// Forces a rebuild from the committed corpus; concurrent refreshes share
// one corpus scan.
func (s *Server) refreshRegistryHandler(c *echo.Context) error {
	summary, err := s.registryService.Refresh(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, summary)
}
