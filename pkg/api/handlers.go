package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stashsense/orchestrator/pkg/apierr"
	"github.com/stashsense/orchestrator/pkg/events"
	"github.com/stashsense/orchestrator/pkg/models"
	"github.com/stashsense/orchestrator/pkg/task"
)

// actionsAvailableHandler handles POST /api/v1/actions/available.
func (s *Server) actionsAvailableHandler(c *gin.Context) {
	var ctxIn models.ContextInput
	if err := c.ShouldBindJSON(&ctxIn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": s.actions.Resolve(ctxIn)})
}

type submitActionRequest struct {
	ActionID string                 `json:"action_id" binding:"required"`
	Context  map[string]any         `json:"context"`
	Params   map[string]any         `json:"params"`
}

// actionsSubmitHandler handles POST /api/v1/actions/submit.
func (s *Server) actionsSubmitHandler(c *gin.Context) {
	var req submitActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	ctxJSON, paramsJSON, err := marshalContextAndParams(req.Context, req.Params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	rec, err := s.tasks.Submit(c.Request.Context(), task.TaskSpec{
		ActionID: req.ActionID,
		Priority: models.TaskPriorityNormal,
		Context:  ctxJSON,
		Params:   paramsJSON,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": rec.ID})
}

// tasksListHandler handles GET /api/v1/tasks.
func (s *Server) tasksListHandler(c *gin.Context) {
	service := c.Query("service")
	status := models.TaskStatus(c.Query("status"))
	c.JSON(http.StatusOK, gin.H{"tasks": s.tasks.List(service, status)})
}

// taskDetailHandler handles GET /api/v1/tasks/:id.
func (s *Server) taskDetailHandler(c *gin.Context) {
	rec, ok := s.tasks.Get(c.Param("id"))
	if !ok {
		writeError(c, apierr.WithCode(apierr.CodeNotFound, apierr.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// taskCancelHandler handles POST /api/v1/tasks/:id/cancel.
func (s *Server) taskCancelHandler(c *gin.Context) {
	if !s.tasks.Cancel(c.Param("id")) {
		writeError(c, apierr.WithCode(apierr.CodeNotFound, apierr.ErrNotCancellable))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// taskHistoryHandler handles GET /api/v1/tasks/history.
func (s *Server) taskHistoryHandler(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	service := c.Query("service")
	status := c.Query("status")

	history, err := s.tasks.History(c.Request.Context(), limit, service, status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// interactionsSyncHandler handles POST /api/v1/interactions/sync.
func (s *Server) interactionsSyncHandler(c *gin.Context) {
	var batch []models.IncomingEvent
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	result, err := s.ingestor.IngestEvents(c.Request.Context(), batch, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}

	if s.publisher != nil {
		sessionID := ""
		if len(batch) > 0 {
			sessionID = batch[0].SessionID
		}
		payload := events.InteractionBatchIngestedPayload{
			Type:       events.EventTypeInteractionBatchIngested,
			SessionID:  sessionID,
			Accepted:   result.Accepted,
			Duplicates: result.Duplicates,
			ErrorCount: len(result.Errors),
			Timestamp:  time.Now().Format(time.RFC3339Nano),
		}
		if err := s.publisher.PublishInteractionBatchIngested(c.Request.Context(), payload); err != nil {
			slog.Warn("failed to publish interaction batch event", "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"accepted":   result.Accepted,
		"duplicates": result.Duplicates,
		"errors":     result.Errors,
	})
}

// recommendersListHandler handles GET /api/v1/recommendations/recommenders.
func (s *Server) recommendersListHandler(c *gin.Context) {
	ctxParam := models.RecContext(c.Query("context"))
	c.JSON(http.StatusOK, gin.H{"recommenders": s.recommenders.ForContext(ctxParam)})
}

// recommendationsQueryHandler handles POST /api/v1/recommendations/query.
func (s *Server) recommendationsQueryHandler(c *gin.Context) {
	var q models.RecommendationQuery
	if err := c.ShouldBindJSON(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	result, found, err := s.recommenders.Query(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, apierr.WithCode(apierr.CodeNotFound, apierr.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, result)
}

// versionHandler handles GET /api/v1/version.
func (s *Server) versionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":             s.backendVersion,
		"frontend_min_version": s.frontendMinVersion,
		"db_alembic_head":     s.dbMigrationHead,
	})
}
