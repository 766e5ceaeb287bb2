package handlers

import (
	"io"
	"net/http"
	"time"

	"festtix/internal/metrics"
	"festtix/internal/middleware"
	"festtix/internal/models"

	"github.com/gin-gonic/gin"
)

// ListEvents - GET /api/events?q=&category=
func (h *Handlers) ListEvents(c *gin.Context) {
	events, err := h.services.Events.List(c.Request.Context(), models.ListEventsQuery{
		Query:    c.Query("q"),
		Category: c.Query("category"),
	})
	if err != nil {
		respondError(c, "list events", err)
		return
	}

	c.JSON(http.StatusOK, events)
}

// GetEvent - GET /api/events/:id
func (h *Handlers) GetEvent(c *gin.Context) {
	event, err := h.services.Events.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get event", err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// GetCapacity - GET /api/events/:id/capacity
func (h *Handlers) GetCapacity(c *gin.Context) {
	capacity, err := h.services.Bookings.Capacity(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get capacity", err)
		return
	}

	c.JSON(http.StatusOK, capacity)
}

// StreamCapacity - GET /api/events/:id/capacity/stream
// Server-sent events: one "capacity" frame with the current counters, then
// one per change until the client goes away.
func (h *Handlers) StreamCapacity(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	updates, cancel := h.services.Bookings.WatchCapacity(id)
	defer cancel()

	current, err := h.services.Bookings.Capacity(ctx, id)
	if err != nil {
		respondError(c, "stream capacity", err)
		return
	}

	metrics.RealtimeSubscribers.Inc()
	defer metrics.RealtimeSubscribers.Dec()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("capacity", current)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case capacity := <-updates:
			c.SSEvent("capacity", capacity)
			return true
		case <-ticker.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}
	})
}

// CreateEvent - POST /api/admin/events
func (h *Handlers) CreateEvent(c *gin.Context) {
	var req models.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, err := h.services.Events.Create(c.Request.Context(), middleware.ProfileFromContext(c), &req)
	if err != nil {
		respondError(c, "create event", err)
		return
	}

	c.JSON(http.StatusCreated, event)
}

// UpdateEvent - PATCH /api/admin/events/:id
func (h *Handlers) UpdateEvent(c *gin.Context) {
	var req models.UpdateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, err := h.services.Events.Update(c.Request.Context(), middleware.ProfileFromContext(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, "update event", err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// DeleteEvent - DELETE /api/admin/events/:id
func (h *Handlers) DeleteEvent(c *gin.Context) {
	if err := h.services.Events.Delete(c.Request.Context(), middleware.ProfileFromContext(c), c.Param("id")); err != nil {
		respondError(c, "delete event", err)
		return
	}

	c.Status(http.StatusNoContent)
}
