package kanban

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/orchestrator/internal/common/apperr"
)

// Handler exposes the Kanban Bridge's board surface over REST (spec §4.G).
type Handler struct {
	store *Store
}

// NewHandler returns a Handler backed by store.
func NewHandler(store *Store) *Handler { return &Handler{store: store} }

// RegisterRoutes mounts the board endpoints onto router.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/kanban/board", h.Board)
	router.POST("/kanban/tasks", h.CreateTask)
	router.GET("/kanban/tasks/:taskId", h.GetTask)
	router.POST("/kanban/tasks/:taskId/move", h.MoveTask)
	router.DELETE("/kanban/tasks/:taskId", h.DeleteTask)
}

// Board returns the full board state (REST GET /kanban/board).
func (h *Handler) Board(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.State())
}

type createTaskRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// CreateTask adds a new card to the Todo column (REST POST /kanban/tasks).
func (h *Handler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, err := h.store.CreateTask(req.Title, req.Description)
	if err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, task)
}

// GetTask returns a single card by id (REST GET /kanban/tasks/:taskId).
func (h *Handler) GetTask(c *gin.Context) {
	task, err := h.store.GetTask(c.Param("taskId"))
	if err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

type moveTaskRequest struct {
	Status string `json:"status" binding:"required"`
}

// MoveTask moves a card to another column (REST POST /kanban/tasks/:taskId/move).
func (h *Handler) MoveTask(c *gin.Context) {
	var req moveTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.MoveTask(c.Param("taskId"), req.Status); err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteTask removes a card from the board (REST DELETE /kanban/tasks/:taskId).
func (h *Handler) DeleteTask(c *gin.Context) {
	task, err := h.store.DeleteTask(c.Param("taskId"))
	if err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}
