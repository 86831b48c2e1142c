package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stashsense/orchestrator/pkg/apierr"
)

// writeError maps a service-layer error to an HTTP JSON error response per
// spec §7: {detail: <string|object>}. Coded errors and ValidationErrors carry
// their own status/code; anything else is logged and reported as a 500.
func writeError(c *gin.Context, err error) {
	var validErr *apierr.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": gin.H{"code": string(validErr.Code), "message": validErr.Detail},
		})
		return
	}

	var coded *apierr.CodedError
	if errors.As(err, &coded) {
		c.JSON(statusForCode(coded.Code), gin.H{
			"detail": gin.H{"code": string(coded.Code), "message": coded.Error()},
		})
		return
	}

	switch {
	case errors.Is(err, apierr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "resource not found"})
	case errors.Is(err, apierr.ErrNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"detail": "task is not in a cancellable state"})
	case errors.Is(err, apierr.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"detail": "resource already exists"})
	case errors.Is(err, apierr.ErrSourceDisabled):
		c.JSON(http.StatusConflict, gin.H{"detail": "plugin source is disabled"})
	case errors.Is(err, apierr.ErrSourceImmutable):
		c.JSON(http.StatusConflict, gin.H{"detail": "plugin source is immutable"})
	case errors.Is(err, apierr.ErrPluginNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "plugin not found"})
	case errors.Is(err, apierr.ErrPluginInactive):
		c.JSON(http.StatusConflict, gin.H{"detail": "plugin is not active"})
	case errors.Is(err, apierr.ErrBackendTooOld):
		c.JSON(http.StatusConflict, gin.H{"detail": "backend version too old for plugin"})
	case errors.Is(err, apierr.ErrDependencyMissing):
		c.JSON(http.StatusConflict, gin.H{"detail": "declared dependency not discovered"})
	case errors.Is(err, apierr.ErrDependenciesRequired):
		c.JSON(http.StatusConflict, gin.H{"detail": "missing dependencies require install_dependencies=true"})
	case errors.Is(err, apierr.ErrDependentPlugins):
		c.JSON(http.StatusConflict, gin.H{"detail": "other plugins depend on this one"})
	case errors.Is(err, apierr.ErrPluginRequired):
		c.JSON(http.StatusConflict, gin.H{"detail": "plugin is required and cannot be removed"})
	case errors.Is(err, apierr.ErrReloadFailed):
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "plugin reload failed"})
	case errors.Is(err, apierr.ErrSourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "plugin source not found"})
	default:
		slog.Error("unexpected service error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
	}
}

// statusForCode maps a machine-readable apierr.Code to its HTTP status,
// per the error-kind taxonomy in spec §7.
func statusForCode(code apierr.Code) int {
	switch code {
	case apierr.CodeNotFound, apierr.CodePluginNotFound, apierr.CodeSourceNotFound:
		return http.StatusNotFound
	case apierr.CodeInvalidNumber, apierr.CodeInvalidBoolean, apierr.CodeInvalidOption, apierr.CodeInvalidJSON:
		return http.StatusBadRequest
	case apierr.CodeBackendTooOld:
		return http.StatusConflict
	case apierr.CodeReloadFailed:
		return http.StatusInternalServerError
	default:
		// SOURCE_DISABLED, SOURCE_IMMUTABLE, PLUGIN_INACTIVE, DEPENDENCY_MISSING,
		// DEPENDENCIES_REQUIRED, DEPENDENT_PLUGINS, PLUGIN_REQUIRED all reflect
		// lifecycle preconditions violated on an otherwise valid request.
		return http.StatusConflict
	}
}
