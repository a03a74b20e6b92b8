package tokenauth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/orchestrator/internal/common/apperr"
)

// Handler exposes the Token Authority's enrollment surface over REST (spec
// §4.A): enroll, rotate, disable, and list host enrollments for an
// organization. Verify is never exposed here — it runs only inside the Host
// Gateway's WebSocket handshake.
type Handler struct {
	authority *Authority
}

// NewHandler returns a Handler backed by authority.
func NewHandler(authority *Authority) *Handler { return &Handler{authority: authority} }

// RegisterRoutes mounts the admin enrollment endpoints onto router.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/orgs/:orgId/hosts", h.Enroll)
	router.GET("/orgs/:orgId/hosts", h.List)
	router.POST("/orgs/:orgId/hosts/:hostId/rotate", h.Rotate)
	router.POST("/orgs/:orgId/hosts/:hostId/disable", h.Disable)
}

type enrollRequest struct {
	HostID string `json:"hostId" binding:"required"`
	Name   string `json:"name"`
}

// Enroll creates or reactivates a host enrollment and issues its first
// connection token (REST POST /orgs/:orgId/hosts).
func (h *Handler) Enroll(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	issued, err := h.authority.Enroll(c.Param("orgId"), req.HostID, req.Name)
	if err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, issued)
}

// Rotate issues a fresh connection token for an already-enrolled host (REST
// POST /orgs/:orgId/hosts/:hostId/rotate).
func (h *Handler) Rotate(c *gin.Context) {
	issued, err := h.authority.Rotate(c.Param("orgId"), c.Param("hostId"))
	if err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, issued)
}

// Disable revokes a host enrollment's ability to connect (REST POST
// /orgs/:orgId/hosts/:hostId/disable).
func (h *Handler) Disable(c *gin.Context) {
	summary, err := h.authority.Disable(c.Param("orgId"), c.Param("hostId"))
	if err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// List returns every host enrollment for an organization (REST GET
// /orgs/:orgId/hosts).
func (h *Handler) List(c *gin.Context) {
	summaries, err := h.authority.List(c.Param("orgId"))
	if err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summaries)
}
