package handlers

import (
	"net/http"
	"strconv"

	"festtix/internal/middleware"
	"festtix/internal/models"

	"github.com/gin-gonic/gin"
)

// BookTicket - POST /api/tickets
func (h *Handlers) BookTicket(c *gin.Context) {
	var req models.BookTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	profile := middleware.ProfileFromContext(c)
	ticket, err := h.services.Bookings.BookTicket(c.Request.Context(), req.EventID, profile.ID)
	if err != nil {
		respondError(c, "book ticket", err)
		return
	}

	c.JSON(http.StatusCreated, ticket)
}

// ListTickets - GET /api/tickets
// The caller's tickets, newest first. stale=true means the list could not be
// reloaded and may miss recent changes.
func (h *Handlers) ListTickets(c *gin.Context) {
	profile := middleware.ProfileFromContext(c)
	tickets, stale, err := h.services.Bookings.UserTickets(c.Request.Context(), profile.ID)
	if err != nil {
		respondError(c, "list tickets", err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}

	c.JSON(http.StatusOK, models.TicketsResponse{Tickets: tickets, Stale: stale})
}

// CancelTicket - DELETE /api/tickets/:id?event_id=
func (h *Handlers) CancelTicket(c *gin.Context) {
	err := h.services.Bookings.CancelTicket(c.Request.Context(), middleware.ProfileFromContext(c), c.Param("id"), c.Query("event_id"))
	if err != nil {
		respondError(c, "cancel ticket", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListAllTickets - GET /api/admin/tickets?limit=
func (h *Handlers) ListAllTickets(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 || limit > 1000 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "limit must be between 1 and 1000", Code: "VALIDATION_FAILED"})
		return
	}

	tickets, err := h.services.Bookings.AllTickets(c.Request.Context(), limit)
	if err != nil {
		respondError(c, "list all tickets", err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}

	c.JSON(http.StatusOK, tickets)
}
