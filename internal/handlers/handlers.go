package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	apperrors "festtix/internal/errors"
	"festtix/internal/logger"
	"festtix/internal/middleware"
	"festtix/internal/models"
	"festtix/internal/service"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	services *service.Services
	// keepAlive spaces comment frames on idle capacity streams
	keepAlive time.Duration
}

func NewHandlers(services *service.Services) *Handlers {
	return &Handlers{
		services:  services,
		keepAlive: 15 * time.Second,
	}
}

// Register mounts the API on group. Every route except the streams runs
// under requestTimeout.
func (h *Handlers) Register(api *gin.RouterGroup, profiles middleware.ProfileSource, requestTimeout time.Duration) {
	// long-lived, so no request timeout
	api.GET("/events/:id/capacity/stream", h.StreamCapacity)
	api.GET("/notifications/stream", middleware.Identity(profiles), h.StreamNotifications)

	bounded := api.Group("", middleware.Timeout(requestTimeout))
	{
		events := bounded.Group("/events")
		{
			events.GET("", h.ListEvents)
			events.GET("/:id", h.GetEvent)
			events.GET("/:id/capacity", h.GetCapacity)
		}

		tickets := bounded.Group("/tickets", middleware.Identity(profiles))
		{
			tickets.POST("", h.BookTicket)
			tickets.GET("", h.ListTickets)
			tickets.DELETE("/:id", h.CancelTicket)
		}

		notifications := bounded.Group("/notifications", middleware.Identity(profiles))
		{
			notifications.GET("", h.ListNotifications)
			notifications.POST("/:id/read", h.MarkNotificationRead)
		}

		admin := bounded.Group("/admin", middleware.Identity(profiles), middleware.RequireAdmin())
		{
			admin.POST("/events", h.CreateEvent)
			admin.PATCH("/events/:id", h.UpdateEvent)
			admin.DELETE("/events/:id", h.DeleteEvent)
			admin.POST("/events/:id/reconcile", h.ReconcileEvent)
			admin.POST("/reconcile", h.ReconcileAll)
			admin.GET("/tickets", h.ListAllTickets)
			admin.POST("/notifications", h.BroadcastNotification)
		}
	}
}

// statusFor maps the error taxonomy onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrEventFull),
		errors.Is(err, apperrors.ErrAlreadyBooked),
		errors.Is(err, apperrors.ErrBookingConflict):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrTicketNotFound),
		errors.Is(err, apperrors.ErrEventNotFound),
		errors.Is(err, apperrors.ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperrors.ErrCancelFailed),
		errors.Is(err, apperrors.ErrNetwork),
		errors.Is(err, apperrors.ErrInvalidRow):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes the JSON error body. Server-side failures are logged
// with their cause; the client only sees the taxonomy message.
func respondError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	body := models.ErrorResponse{Code: apperrors.Code(err)}

	var verr *apperrors.ValidationError
	switch {
	case errors.As(err, &verr):
		body.Error = apperrors.ErrValidation.Error()
		body.Fields = verr.Fields
	case status == http.StatusGatewayTimeout:
		body.Error = "backend did not answer in time"
		body.Code = "TIMEOUT"
	case status == http.StatusInternalServerError:
		body.Error = "internal error"
	default:
		body.Error = rootMessage(err)
	}

	log := logger.WithContext(c.Request.Context())
	if status >= http.StatusInternalServerError {
		log.Error("Failed to "+op, "error", err, "status", status)
	} else {
		log.Info("Rejected "+op, "error", err, "status", status)
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

// rootMessage returns the taxonomy sentinel's text, hiding backend detail
func rootMessage(err error) string {
	for _, sentinel := range []error{
		apperrors.ErrEventFull,
		apperrors.ErrAlreadyBooked,
		apperrors.ErrBookingConflict,
		apperrors.ErrTicketNotFound,
		apperrors.ErrEventNotFound,
		apperrors.ErrNotificationNotFound,
		apperrors.ErrCancelFailed,
		apperrors.ErrUnauthorized,
		apperrors.ErrForbidden,
		apperrors.ErrNetwork,
		apperrors.ErrInvalidRow,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{
		Error: err.Error(),
		Code:  apperrors.Code(apperrors.ErrValidation),
	})
}
