package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/replyworks/sage/pkg/services"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation error", services.NewValidationError("question", "required"), http.StatusBadRequest},
		{"not found", services.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("lookup: %w", services.ErrNotFound), http.StatusNotFound},
		{"commit conflict", services.ErrCommitConflict, http.StatusConflict},
		{"already exists", services.ErrAlreadyExists, http.StatusConflict},
		{"timeout", services.ErrTimeout, http.StatusGatewayTimeout},
		{"upstream", services.ErrUpstream, http.StatusBadGateway},
		{"unexpected", errors.New("pq: connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.Equal(t, tt.code, he.Code)
		})
	}

	t.Run("internal errors never leak detail", func(t *testing.T) {
		he := mapServiceError(errors.New("pq: password authentication failed for user sage"))
		assert.Equal(t, "internal server error", he.Message)
	})
}
