package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"localrank/internal/service"
	"localrank/pkg/logger"
)

type ProjectHandler struct {
	engine *service.Engine
	logger *zap.Logger
}

func NewProjectHandler(engine *service.Engine, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{engine: engine, logger: logger}
}

// GetProject handles GET /api/v1/projects/:id
func (h *ProjectHandler) GetProject(c *gin.Context) {
	p, err := h.engine.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListTasks handles GET /api/v1/projects/:id/tasks?phase=N
func (h *ProjectHandler) ListTasks(c *gin.Context) {
	phaseN := 0
	if raw := c.Query("phase"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "invalid phase")
			return
		}
		phaseN = n
	}

	tasks, err := h.engine.ListTasks(c.Request.Context(), c.Param("id"), phaseN)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// AddTask handles POST /api/v1/projects/:id/tasks
func (h *ProjectHandler) AddTask(c *gin.Context) {
	var req service.TaskInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	u, err := h.engine.AddTask(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// CompleteTask handles POST /api/v1/tasks/:id/complete
func (h *ProjectHandler) CompleteTask(c *gin.Context) {
	h.toggle(c, true)
}

// ReopenTask handles POST /api/v1/tasks/:id/reopen
func (h *ProjectHandler) ReopenTask(c *gin.Context) {
	h.toggle(c, false)
}

func (h *ProjectHandler) toggle(c *gin.Context, completed bool) {
	ctx := c.Request.Context()
	taskID := c.Param("id")

	var (
		u   *service.TaskUpdate
		err error
	)
	if completed {
		u, err = h.engine.CompleteTask(ctx, taskID)
	} else {
		u, err = h.engine.ReopenTask(ctx, taskID)
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	logger.WithTrace(ctx, h.logger).Debug("Task toggled",
		zap.String("task_id", taskID),
		zap.Bool("completed", u.Task.Completed),
		zap.Int("current_phase", u.Project.CurrentPhase),
	)
	c.JSON(http.StatusOK, u)
}

// SetPhaseProgress handles PUT /api/v1/projects/:id/phases/:phase/progress
func (h *ProjectHandler) SetPhaseProgress(c *gin.Context) {
	phaseN, err := strconv.Atoi(c.Param("phase"))
	if err != nil {
		badRequest(c, "invalid phase")
		return
	}
	var req struct {
		Progress *int `json:"progress"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Progress == nil {
		badRequest(c, "progress is required")
		return
	}

	p, err := h.engine.SetPhaseProgress(c.Request.Context(), c.Param("id"), phaseN, *req.Progress)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
