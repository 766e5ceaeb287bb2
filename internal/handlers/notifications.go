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

// ListNotifications - GET /api/notifications
// The caller's latest notifications with the unread count among them.
func (h *Handlers) ListNotifications(c *gin.Context) {
	profile := middleware.ProfileFromContext(c)
	list, unread, err := h.services.Notifications.Inbox(c.Request.Context(), profile.ID)
	if err != nil {
		respondError(c, "list notifications", err)
		return
	}

	c.JSON(http.StatusOK, models.NotificationsResponse{Notifications: list, UnreadCount: unread})
}

// MarkNotificationRead - POST /api/notifications/:id/read
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	n, err := h.services.Notifications.MarkRead(c.Request.Context(), middleware.ProfileFromContext(c), c.Param("id"))
	if err != nil {
		respondError(c, "mark notification read", err)
		return
	}

	c.JSON(http.StatusOK, n)
}

// StreamNotifications - GET /api/notifications/stream (SSE)
func (h *Handlers) StreamNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	profile := middleware.ProfileFromContext(c)

	updates, stop, err := h.services.Notifications.Watch(ctx, profile.ID)
	if err != nil {
		respondError(c, "stream notifications", err)
		return
	}
	defer stop()

	metrics.NotificationStreamClients.Inc()
	defer metrics.NotificationStreamClients.Dec()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	_, _ = io.WriteString(c.Writer, ": connected\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("notification", n)
			return true
		case <-ticker.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}
	})
}

// BroadcastNotification - POST /api/admin/notifications
func (h *Handlers) BroadcastNotification(c *gin.Context) {
	var req models.BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.services.Notifications.Broadcast(c.Request.Context(), middleware.ProfileFromContext(c), &req)
	if err != nil {
		respondError(c, "broadcast notification", err)
		return
	}

	c.JSON(http.StatusCreated, result)
}
