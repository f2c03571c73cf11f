// Package handlers exposes the HTTP API: task submission, task lookup,
// status history, health and the websocket progress stream.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"devorchestra/internal/bus"
	"devorchestra/internal/metrics"
	"devorchestra/internal/orchestrator"
	"devorchestra/internal/store"
	"devorchestra/internal/ws"
)

const maxStoryLength = 10000

// Handler carries the wired service dependencies for all routes.
type Handler struct {
	orch  *orchestrator.Orchestrator
	store *store.TaskStore
	bus   *bus.Bus
	hub   *ws.Hub
	log   *zap.Logger
}

// New creates the handler set.
func New(orch *orchestrator.Orchestrator, taskStore *store.TaskStore, statusBus *bus.Bus, hub *ws.Hub, log *zap.Logger) *Handler {
	return &Handler{orch: orch, store: taskStore, bus: statusBus, hub: hub, log: log}
}

// Register mounts all routes on the router.
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/metrics", metrics.Handler())
	router.GET("/ws", h.hub.HandleWebSocket)

	api := router.Group("/api")
	{
		api.POST("/generate", h.Generate)
		api.GET("/tasks/latest", h.LatestTask)
		api.GET("/tasks/:id", h.GetTask)
		api.GET("/tasks/:id/history", h.TaskHistory)
	}
}

// Generate accepts a user story and starts the pipeline in the background.
func (h *Handler) Generate(c *gin.Context) {
	var req orchestrator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_story is required"})
		return
	}
	if strings.TrimSpace(req.UserStory) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_story is required"})
		return
	}
	if len(req.UserStory) > maxStoryLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_story too long"})
		return
	}

	taskID, err := h.orch.Start(req)
	if err != nil {
		h.log.Error("failed to accept task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept task"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": taskID,
		"status":  "pending",
		"message": "Pipeline started, subscribe to /ws?task_id=" + taskID + " for progress",
	})
}

// GetTask returns the stored record for one task.
func (h *Handler) GetTask(c *gin.Context) {
	task, err := h.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// LatestTask returns the most recently created task.
func (h *Handler) LatestTask(c *gin.Context) {
	task, err := h.store.Latest()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no tasks recorded"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// TaskHistory returns the agent status history for a task, newest first.
// Empty when Redis is disabled.
func (h *Handler) TaskHistory(c *gin.Context) {
	messages, err := h.bus.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.log.Warn("failed to read task history", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history unavailable"})
		return
	}
	if messages == nil {
		messages = []bus.StatusMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"task_id": c.Param("id"), "history": messages})
}

// Health reports dependency status. Degraded dependencies do not fail the
// endpoint; the pipeline runs without them.
func (h *Handler) Health(c *gin.Context) {
	dbStatus := "ok"
	if err := h.store.Health(); err != nil {
		dbStatus = "error: " + err.Error()
	}
	redisStatus := "disabled"
	if h.bus.Enabled() {
		redisStatus = "ok"
		if err := h.bus.Health(c.Request.Context()); err != nil {
			redisStatus = "error: " + err.Error()
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"database":    dbStatus,
		"redis":       redisStatus,
		"subscribers": h.hub.SubscriberCount(),
	})
}
