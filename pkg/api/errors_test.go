package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/stashsense/orchestrator/pkg/apierr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serveError(err error) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(c, err)
	return rec
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectBody string
	}{
		{
			name:       "validation error maps to 400",
			err:        apierr.NewValidationError(apierr.CodeInvalidNumber, "missing field"),
			expectCode: http.StatusBadRequest,
			expectBody: "missing field",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", apierr.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectBody: "resource not found",
		},
		{
			name:       "not cancellable maps to 409",
			err:        apierr.ErrNotCancellable,
			expectCode: http.StatusConflict,
			expectBody: "task is not in a cancellable state",
		},
		{
			name:       "already exists maps to 409",
			err:        fmt.Errorf("wrapped: %w", apierr.ErrAlreadyExists),
			expectCode: http.StatusConflict,
			expectBody: "resource already exists",
		},
		{
			name:       "coded not-found error maps to 404 with code",
			err:        apierr.WithCode(apierr.CodeSourceNotFound, apierr.ErrSourceNotFound),
			expectCode: http.StatusNotFound,
			expectBody: "SOURCE_NOT_FOUND",
		},
		{
			name:       "coded reload-failed error maps to 500",
			err:        apierr.WithCode(apierr.CodeReloadFailed, apierr.ErrReloadFailed),
			expectCode: http.StatusInternalServerError,
			expectBody: "RELOAD_FAILED",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectBody: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveError(tt.err)
			assert.Equal(t, tt.expectCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectBody)
		})
	}
}

func TestStatusForCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusForCode(apierr.CodeNotFound))
	assert.Equal(t, http.StatusNotFound, statusForCode(apierr.CodePluginNotFound))
	assert.Equal(t, http.StatusBadRequest, statusForCode(apierr.CodeInvalidJSON))
	assert.Equal(t, http.StatusConflict, statusForCode(apierr.CodeSourceDisabled))
	assert.Equal(t, http.StatusConflict, statusForCode(apierr.CodeDependentPlugins))
	assert.Equal(t, http.StatusInternalServerError, statusForCode(apierr.CodeReloadFailed))
}
