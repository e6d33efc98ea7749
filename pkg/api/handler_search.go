package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/replyworks/sage/pkg/models"
)

// searchHandler handles POST /api/v1/search.
// Direct hybrid retrieval against the committed corpus, no generation.
func (s *Server) searchHandler(c *echo.Context) error {
	var req models.SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	results, err := s.searchService.Search(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}
