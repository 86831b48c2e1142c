package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stashsense/orchestrator/pkg/models"
	"github.com/stashsense/orchestrator/pkg/settings"
)

// Shared-secret auth per spec §6: callers present the value in either the
// x-ai-api-key header or the api_key query param. The expected value lives
// in the system setting UI_SHARED_API_KEY; an empty value disables the
// check entirely.
const (
	sharedSecretHeader     = "x-ai-api-key"
	sharedSecretQueryParam = "api_key"
	sharedSecretSettingKey = "UI_SHARED_API_KEY"
)

// requireSharedSecret gates admin routes with the shared-secret check.
func requireSharedSecret(store *settings.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := lookupSharedSecret(c.Request.Context(), store)
		if expected == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(sharedSecretHeader)
		if provided == "" {
			provided = c.Query(sharedSecretQueryParam)
		}
		if provided != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing or invalid api key"})
			return
		}
		c.Next()
	}
}

func lookupSharedSecret(ctx context.Context, store *settings.Store) string {
	if store == nil {
		return ""
	}
	raw, err := store.Get(ctx, models.SystemPluginName, sharedSecretSettingKey)
	if err != nil || len(raw) == 0 {
		return ""
	}
	var secret string
	if err := json.Unmarshal(raw, &secret); err != nil {
		return ""
	}
	return secret
}
