package taskstore

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/orchestrator/internal/common/apperr"
)

// Handler exposes the Task Store's CRUD surface over REST (spec §4.N).
type Handler struct {
	store *Store
}

// NewHandler returns a Handler backed by store.
func NewHandler(store *Store) *Handler { return &Handler{store: store} }

// RegisterRoutes mounts the task CRUD endpoints onto router.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/tasks", h.Create)
	router.GET("/tasks", h.List)
	router.GET("/tasks/:taskId", h.Get)
	router.PUT("/tasks/:taskId", h.Update)
	router.DELETE("/tasks/:taskId", h.Delete)
}

type createTaskRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// Create adds a new task (REST POST /tasks).
func (h *Handler) Create(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, err := h.store.Create(req.Title, req.Description)
	if err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, task)
}

// List returns every task, optionally filtered by ?status= (REST GET /tasks).
func (h *Handler) List(c *gin.Context) {
	if status := c.Query("status"); status != "" {
		c.JSON(http.StatusOK, h.store.FindByStatus(Status(status)))
		return
	}
	c.JSON(http.StatusOK, h.store.List())
}

// Get returns a single task by id (REST GET /tasks/:taskId).
func (h *Handler) Get(c *gin.Context) {
	task, err := h.store.Get(c.Param("taskId"))
	if err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

// Update replaces a task's fields (REST PUT /tasks/:taskId).
func (h *Handler) Update(c *gin.Context) {
	var task Task
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task.ID = c.Param("taskId")
	updated, err := h.store.Update(task)
	if err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Delete removes a task (REST DELETE /tasks/:taskId).
func (h *Handler) Delete(c *gin.Context) {
	deleted, err := h.store.Delete(c.Param("taskId"))
	if err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
