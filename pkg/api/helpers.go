package api

import (
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stashsense/orchestrator/pkg/apierr"
)

func dependentPluginsError() error {
	return apierr.WithCode(apierr.CodeDependentPlugins, apierr.ErrDependentPlugins)
}

func marshalContextAndParams(ctxIn, paramsIn map[string]any) (ctxJSON, paramsJSON json.RawMessage, err error) {
	if ctxIn != nil {
		if ctxJSON, err = json.Marshal(ctxIn); err != nil {
			return nil, nil, err
		}
	}
	if paramsIn != nil {
		if paramsJSON, err = json.Marshal(paramsIn); err != nil {
			return nil, nil, err
		}
	}
	return ctxJSON, paramsJSON, nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func queryBool(c *gin.Context, key string) bool {
	raw := c.Query(key)
	b, _ := strconv.ParseBool(raw)
	return b
}
