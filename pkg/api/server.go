// Package api implements the orchestrator's HTTP (JSON) and WebSocket
// surface: the action/task/plugin routes of spec §6, served with gin.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/stashsense/orchestrator/pkg/config"
	"github.com/stashsense/orchestrator/pkg/database"
	"github.com/stashsense/orchestrator/pkg/events"
	"github.com/stashsense/orchestrator/pkg/interaction"
	"github.com/stashsense/orchestrator/pkg/plugin"
	"github.com/stashsense/orchestrator/pkg/registry"
	"github.com/stashsense/orchestrator/pkg/settings"
	"github.com/stashsense/orchestrator/pkg/stash"
	"github.com/stashsense/orchestrator/pkg/task"
)

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	cfg      *config.Config
	dbClient *database.Client

	actions      *registry.ActionRegistry
	services     *registry.ServiceRegistry
	recommenders *registry.RecommenderRegistry
	tasks        *task.Manager
	ingestor     *interaction.Ingestor
	plugins      *plugin.Loader
	settings     *settings.Store

	connManager *events.ConnectionManager
	publisher   *events.EventPublisher
	wsUpgrader  websocket.Upgrader

	stashClient stash.Client // nil if not wired; health degrades gracefully

	backendVersion     string
	frontendMinVersion string
	dbMigrationHead    string
}

// NewServer wires every route against the collaborators gathered at
// startup and returns a Server ready to Start.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	actions *registry.ActionRegistry,
	services *registry.ServiceRegistry,
	recommenders *registry.RecommenderRegistry,
	tasks *task.Manager,
	ingestor *interaction.Ingestor,
	plugins *plugin.Loader,
	settingsStore *settings.Store,
	connManager *events.ConnectionManager,
	publisher *events.EventPublisher,
	backendVersion, frontendMinVersion, dbMigrationHead string,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	var allowedOrigins []string
	if cfg != nil && cfg.Server != nil {
		allowedOrigins = cfg.Server.AllowedWSOrigins
	}

	s := &Server{
		router:             router,
		cfg:                cfg,
		dbClient:           dbClient,
		actions:            actions,
		services:           services,
		recommenders:       recommenders,
		tasks:              tasks,
		ingestor:           ingestor,
		plugins:            plugins,
		settings:           settingsStore,
		connManager:        connManager,
		publisher:          publisher,
		wsUpgrader:         newWSUpgrader(allowedOrigins),
		backendVersion:     backendVersion,
		frontendMinVersion: frontendMinVersion,
		dbMigrationHead:    dbMigrationHead,
	}

	s.setupRoutes()
	return s
}

// SetStashClient sets the external media-catalog client used by the health
// endpoint's readiness check. Optional — a nil client is treated as healthy.
func (s *Server) SetStashClient(client stash.Client) {
	s.stashClient = client
}

// setupRoutes registers every route from spec §6.
func (s *Server) setupRoutes() {
	s.router.Use(securityHeaders())
	s.router.MaxMultipartMemory = 2 << 20 // 2 MB, matching the teacher's body-size ceiling

	s.router.GET("/system/health", s.systemHealthHandler)

	v1 := s.router.Group("/api/v1")
	v1.GET("/version", s.versionHandler)
	v1.GET("/system/health", s.systemHealthHandler)

	v1.POST("/actions/available", s.actionsAvailableHandler)
	v1.POST("/actions/submit", s.actionsSubmitHandler)

	v1.GET("/tasks", s.tasksListHandler)
	v1.GET("/tasks/history", s.taskHistoryHandler)
	v1.GET("/tasks/:id", s.taskDetailHandler)
	v1.POST("/tasks/:id/cancel", s.taskCancelHandler)

	v1.POST("/interactions/sync", s.interactionsSyncHandler)

	v1.GET("/recommendations/recommenders", s.recommendersListHandler)
	v1.POST("/recommendations/query", s.recommendationsQueryHandler)

	v1.GET("/ws", s.wsHandler)

	admin := v1.Group("/plugins")
	admin.Use(requireSharedSecret(s.settings))
	admin.GET("/installed", s.pluginsInstalledHandler)
	admin.GET("/sources", s.pluginsSourcesHandler)
	admin.POST("/sources/:name/refresh", s.pluginsRefreshSourceHandler)
	admin.GET("/catalog/:source", s.pluginsCatalogHandler)
	admin.POST("/install", s.pluginsInstallHandler)
	admin.POST("/install/plan", s.pluginsInstallPlanHandler)
	admin.POST("/update", s.pluginsUpdateHandler)
	admin.POST("/remove", s.pluginsRemoveHandler)
	admin.POST("/remove/plan", s.pluginsRemovePlanHandler)
	admin.POST("/reload", s.pluginsReloadHandler)
	admin.GET("/settings/system", s.systemSettingsHandler)
	admin.GET("/settings/:plugin", s.pluginSettingsListHandler)
	admin.POST("/settings/:plugin/:key", s.pluginSettingSetHandler)
}

// systemHealthHandler handles GET /system/health (and its /api/v1 alias).
func (s *Server) systemHealthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"

	dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":         "error",
			"backend_version": s.backendVersion,
			"database":       dbHealth,
		})
		return
	}

	if s.stashClient != nil {
		if err := s.stashClient.Ping(reqCtx); err != nil {
			status = "warn"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"backend_version": s.backendVersion,
		"database":        dbHealth,
	})
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.router}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
