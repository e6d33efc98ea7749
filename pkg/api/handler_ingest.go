package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/replyworks/sage/pkg/ingest"
)

// stageHandler handles POST /api/v1/ingest.
// Accepts either a multipart upload (field "files", repeatable) or a JSON
// body of pre-extracted pairs. Either way the chunks are auto-classified
// and parked in a staging draft for review.
func (s *Server) stageHandler(c *echo.Context) error {
	maxBytes := s.cfg.Ingest.MaxUploadBytes
	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxBytes)

	files, err := s.uploadedFiles(c)
	if err != nil {
		return err
	}

	draft, err := s.ingestService.Stage(c.Request().Context(), files)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, draft)
}

// uploadedFiles extracts the ingest payload from the request, whichever
// form it took.
func (s *Server) uploadedFiles(c *echo.Context) ([]ingest.File, error) {
	contentType := c.Request().Header.Get("Content-Type")

	if !strings.HasPrefix(contentType, "multipart/") {
		var req StageChunksRequest
		if err := c.Bind(&req); err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if len(req.Pairs) == 0 {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "pairs must not be empty")
		}
		data, err := json.Marshal(req.Pairs)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		name := req.Filename
		if name == "" {
			name = "upload.json"
		}
		return []ingest.File{{Name: name, Data: data}}, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest,
			"expected a multipart upload or a JSON body: "+err.Error())
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, `multipart field "files" is required`)
	}

	files := make([]ingest.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("open %s: %v", fh.Filename, err))
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read %s: %v", fh.Filename, err))
		}
		files = append(files, ingest.File{Name: fh.Filename, Data: data})
	}
	return files, nil
}

// listDraftsHandler handles GET /api/v1/ingest/drafts.
func (s *Server) listDraftsHandler(c *echo.Context) error {
	drafts, err := s.ingestService.Drafts(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"drafts": drafts})
}

// getDraftHandler handles GET /api/v1/ingest/drafts/:id.
func (s *Server) getDraftHandler(c *echo.Context) error {
	draft, err := s.ingestService.Draft(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, draft)
}

// patchDraftHandler handles PATCH /api/v1/ingest/drafts/:id.
// Edits are idempotent by chunk id; replaying the same PATCH is safe.
func (s *Server) patchDraftHandler(c *echo.Context) error {
	var req PatchDraftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Edits) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "edits must not be empty")
	}
	draft, err := s.ingestService.PatchDraft(c.Request().Context(), c.Param("id"), req.Edits)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, draft)
}

// commitDraftHandler handles POST /api/v1/ingest/drafts/:id/commit.
func (s *Server) commitDraftHandler(c *echo.Context) error {
	result, err := s.ingestService.Commit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CommitResponse{
		DocumentID:     result.DocumentID,
		CommittedCount: len(result.PairIDs),
		PairIDs:        result.PairIDs,
	})
}

// discardDraftHandler handles DELETE /api/v1/ingest/drafts/:id.
func (s *Server) discardDraftHandler(c *echo.Context) error {
	if err := s.ingestService.Discard(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
