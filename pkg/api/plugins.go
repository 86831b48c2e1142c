package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stashsense/orchestrator/pkg/models"
)

// pluginsInstalledHandler handles GET /api/v1/plugins/installed.
func (s *Server) pluginsInstalledHandler(c *gin.Context) {
	meta, err := s.plugins.Installed(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plugins": meta})
}

// pluginsSourcesHandler handles GET /api/v1/plugins/sources.
func (s *Server) pluginsSourcesHandler(c *gin.Context) {
	sources, err := s.plugins.ListSources(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

// pluginsRefreshSourceHandler handles POST /api/v1/plugins/sources/:name/refresh.
func (s *Server) pluginsRefreshSourceHandler(c *gin.Context) {
	if err := s.plugins.RefreshSource(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

// pluginsCatalogHandler handles GET /api/v1/plugins/catalog/:source.
func (s *Server) pluginsCatalogHandler(c *gin.Context) {
	entries, err := s.plugins.Catalog(c.Request.Context(), c.Param("source"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type installRequest struct {
	Source               string `json:"source" binding:"required"`
	PluginName           string `json:"plugin_name" binding:"required"`
	InstallDependencies  bool   `json:"install_dependencies"`
	Overwrite            bool   `json:"overwrite"`
	Token                string `json:"token"`
}

// pluginsInstallPlanHandler handles POST /api/v1/plugins/install/plan.
func (s *Server) pluginsInstallPlanHandler(c *gin.Context) {
	var req installRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	plan, err := s.plugins.PlanInstall(c.Request.Context(), req.Source, req.PluginName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// pluginsInstallHandler handles POST /api/v1/plugins/install.
func (s *Server) pluginsInstallHandler(c *gin.Context) {
	var req installRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := s.plugins.Install(c.Request.Context(), req.Source, req.PluginName, req.InstallDependencies, req.Overwrite, req.Token); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "installed"})
}

// pluginsUpdateHandler handles POST /api/v1/plugins/update: a reinstall
// with overwrite forced on, regardless of what the caller passed.
func (s *Server) pluginsUpdateHandler(c *gin.Context) {
	var req installRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := s.plugins.Install(c.Request.Context(), req.Source, req.PluginName, req.InstallDependencies, true, req.Token); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type pluginNameRequest struct {
	Name string `json:"name" binding:"required"`
}

// pluginsRemovePlanHandler handles POST /api/v1/plugins/remove/plan.
func (s *Server) pluginsRemovePlanHandler(c *gin.Context) {
	var req pluginNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	plan, err := s.plugins.PlanRemove(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// pluginsRemoveHandler handles POST /api/v1/plugins/remove.
func (s *Server) pluginsRemoveHandler(c *gin.Context) {
	var req pluginNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if !req.forceOrNoDependents(c, s) {
		return
	}
	if err := s.plugins.Remove(c.Request.Context(), req.Name); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// forceOrNoDependents enforces spec §7's DEPENDENT_PLUGINS conflict: removal
// is refused unless the caller passed cascade=true or the plan is a no-op
// single-plugin removal.
func (req pluginNameRequest) forceOrNoDependents(c *gin.Context, s *Server) bool {
	if queryBool(c, "cascade") {
		return true
	}
	plan, err := s.plugins.PlanRemove(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return false
	}
	for _, name := range plan.Order {
		if name != req.Name {
			writeError(c, dependentPluginsError())
			return false
		}
	}
	return true
}

// pluginsReloadHandler handles POST /api/v1/plugins/reload.
func (s *Server) pluginsReloadHandler(c *gin.Context) {
	var req pluginNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := s.plugins.Reload(c.Request.Context(), req.Name); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

// pluginSettingsListHandler handles GET /api/v1/plugins/settings/:plugin.
func (s *Server) pluginSettingsListHandler(c *gin.Context) {
	defs, err := s.settings.List(c.Request.Context(), c.Param("plugin"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": defs})
}

type settingValueRequest struct {
	Value any `json:"value"`
}

// pluginSettingSetHandler handles POST /api/v1/plugins/settings/:plugin/:key.
func (s *Server) pluginSettingSetHandler(c *gin.Context) {
	var req settingValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := s.settings.Set(c.Request.Context(), c.Param("plugin"), c.Param("key"), req.Value); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// systemSettingsHandler handles GET /api/v1/plugins/system/settings.
func (s *Server) systemSettingsHandler(c *gin.Context) {
	defs, err := s.settings.List(c.Request.Context(), models.SystemPluginName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": defs})
}
