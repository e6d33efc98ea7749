package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// listQueryBounds parses limit/offset with the given default page size.
func listQueryBounds(c *echo.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// listDocumentsHandler handles GET /api/v1/documents.
func (s *Server) listDocumentsHandler(c *echo.Context) error {
	limit, offset := listQueryBounds(c, 50)
	docs, err := s.documentService.List(c.Request().Context(), c.QueryParam("status"), limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"documents": docs})
}

// getDocumentHandler handles GET /api/v1/documents/:id.
func (s *Server) getDocumentHandler(c *echo.Context) error {
	doc, err := s.documentService.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

// archiveDocumentHandler handles DELETE /api/v1/documents/:id.
// Documents are archived, never hard-deleted; their pairs drop out of
// retrieval atomically.
func (s *Server) archiveDocumentHandler(c *echo.Context) error {
	id := c.Param("id")
	archived, err := s.documentService.Archive(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ArchiveResponse{DocumentID: id, PairsArchived: archived})
}
