package api

import (
	"errors"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/services"
)

// queryHandler handles POST /api/v1/query.
// Runs the full pipeline and returns the archived query record.
func (s *Server) queryHandler(c *echo.Context) error {
	var req models.QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	record, err := s.queryService.Run(c.Request().Context(), req)
	if err != nil {
		// A guardrail refusal is a successful outcome of the pipeline, not
		// a transport failure.
		var block *services.GuardrailBlock
		if errors.As(err, &block) {
			return c.JSON(http.StatusOK, &BlockedQueryResponse{
				Answer:           llm.RefusalMessage(""),
				Action:           models.ActionEscalate,
				EscalationReason: models.EscalationGuardrailBlock,
				RiskScore:        block.RiskScore,
			})
		}
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, record)
}

// getQueryRecordHandler handles GET /api/v1/queries/:id.
func (s *Server) getQueryRecordHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query id is required")
	}
	record, err := s.queryService.Record(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, record)
}
