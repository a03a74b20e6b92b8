package dispatcher

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/orchestrator/internal/common/apperr"
)

// Handler exposes the Dispatcher's task routing surface over REST (spec
// §4.E, §2 core data flow): dispatching a task to a host, aborting a
// running one, and delivering follow-up input.
type Handler struct {
	dispatcher *Dispatcher
}

// NewHandler returns a Handler backed by d.
func NewHandler(d *Dispatcher) *Handler { return &Handler{dispatcher: d} }

// RegisterRoutes mounts the dispatch endpoints onto router.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/tasks/:taskId/dispatch", h.Dispatch)
	router.POST("/tasks/:taskId/abort", h.Abort)
	router.POST("/tasks/:taskId/input", h.Input)
}

type dispatchRequest struct {
	Prompt         string            `json:"prompt" binding:"required"`
	Cwd            string            `json:"cwd"`
	AgentType      string            `json:"agentType" binding:"required"`
	Model          string            `json:"model"`
	Env            map[string]string `json:"env"`
	TimeoutSeconds int               `json:"timeoutSeconds"`
}

// Dispatch sends a task to an available host (REST POST /tasks/:taskId/dispatch).
func (h *Handler) Dispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hostID, err := h.dispatcher.DispatchTask(TaskRequest{
		TaskID:         c.Param("taskId"),
		Prompt:         req.Prompt,
		Cwd:            req.Cwd,
		AgentType:      req.AgentType,
		Model:          req.Model,
		Env:            req.Env,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"hostId": hostID})
}

// Abort stops a running task (REST POST /tasks/:taskId/abort).
func (h *Handler) Abort(c *gin.Context) {
	if err := h.dispatcher.AbortTask(c.Param("taskId")); err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type inputRequest struct {
	Content string `json:"content" binding:"required"`
}

// Input delivers follow-up input to a running task (REST POST /tasks/:taskId/input).
func (h *Handler) Input(c *gin.Context) {
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.dispatcher.SendInput(c.Param("taskId"), req.Content); err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
