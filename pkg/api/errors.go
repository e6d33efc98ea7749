package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/replyworks/sage/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP error responses.
// GuardrailBlock never reaches this function: the query handler renders it
// as a domain outcome, not an error.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrCommitConflict) {
		return echo.NewHTTPError(http.StatusConflict, "another commit is in progress for this draft")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, services.ErrTimeout) {
		return echo.NewHTTPError(http.StatusGatewayTimeout, "operation timed out")
	}
	if errors.Is(err, services.ErrUpstream) {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream dependency failed")
	}

	// Unexpected error. Raw store/provider text never reaches the caller.
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
