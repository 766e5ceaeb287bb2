package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ReconcileEvent - POST /api/admin/events/:id/reconcile
// Recount tickets_booked for one event from its ticket rows
func (h *Handlers) ReconcileEvent(c *gin.Context) {
	result, err := h.services.Reconcile.ReconcileEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "reconcile event", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ReconcileAll - POST /api/admin/reconcile
func (h *Handlers) ReconcileAll(c *gin.Context) {
	results, err := h.services.Reconcile.ReconcileAll(c.Request.Context())
	if err != nil {
		respondError(c, "reconcile events", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}
