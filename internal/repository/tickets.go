package repository

import (
	"context"
	"errors"
	"fmt"

	"festtix/internal/backend"
	apperrors "festtix/internal/errors"
	"festtix/internal/models"
)

type TicketRepository struct {
	ds backend.DataService
}

func NewTicketRepository(ds backend.DataService) *TicketRepository {
	return &TicketRepository{ds: ds}
}

func decodeTicket(row backend.Row) (*models.Ticket, error) {
	r := readRow(backend.TableTickets, row)
	ticket := &models.Ticket{
		ID:         r.String("id", true),
		TicketCode: r.String("ticket_code", true),
		UserID:     r.String("user_id", true),
		EventID:    r.String("event_id", true),
		Status:     r.String("status", false),
		CreatedAt:  r.Time("created_at", false),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	switch ticket.Status {
	case "":
		ticket.Status = models.TicketConfirmed
	case models.TicketConfirmed, models.TicketPending, models.TicketCancelled:
	default:
		return nil, fmt.Errorf("%w: tickets.status %q", apperrors.ErrInvalidRow, ticket.Status)
	}
	return ticket, nil
}

// DecodeTicket turns a realtime change row into a ticket
func DecodeTicket(row backend.Row) (*models.Ticket, error) {
	return decodeTicket(row)
}

// DecodeEvent turns a realtime change row into an event
func DecodeEvent(row backend.Row) (*models.Event, error) {
	return decodeEvent(row)
}

func (r *TicketRepository) GetByID(ctx context.Context, id string) (*models.Ticket, error) {
	rows, err := r.ds.Select(ctx, backend.TableTickets, backend.Query{
		Filter: backend.Filter{"id": id},
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.ErrTicketNotFound
	}
	return decodeTicket(rows[0])
}

// FindActive returns the user's non-cancelled ticket for the event, or nil
func (r *TicketRepository) FindActive(ctx context.Context, eventID, userID string) (*models.Ticket, error) {
	rows, err := r.ds.Select(ctx, backend.TableTickets, backend.Query{
		Filter: backend.Filter{"event_id": eventID, "user_id": userID},
	})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		ticket, err := decodeTicket(row)
		if err != nil {
			return nil, err
		}
		if ticket.Status != models.TicketCancelled {
			return ticket, nil
		}
	}
	return nil, nil
}

// Create inserts a confirmed ticket. Constraint violations come back as
// *backend.ConstraintError.
func (r *TicketRepository) Create(ctx context.Context, eventID, userID, code string) (*models.Ticket, error) {
	row, err := r.ds.Insert(ctx, backend.TableTickets, backend.Row{
		"event_id":    eventID,
		"user_id":     userID,
		"ticket_code": code,
		"status":      models.TicketConfirmed,
	})
	if err != nil {
		return nil, err
	}
	return decodeTicket(row)
}

// Book inserts the ticket through book_ticket, which checks capacity and
// increments the counter in the same transaction.
func (r *TicketRepository) Book(ctx context.Context, eventID, userID, code string) (*models.Ticket, error) {
	result, err := r.ds.CallProcedure(ctx, backend.ProcBookTicket, backend.Row{
		"event_id":    eventID,
		"user_id":     userID,
		"ticket_code": code,
	})
	if errors.Is(err, backend.ErrNotFound) {
		return nil, apperrors.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	row, ok := result.(backend.Row)
	if !ok {
		return nil, fmt.Errorf("%w: book_ticket returned %T", apperrors.ErrInvalidRow, result)
	}
	return decodeTicket(row)
}

func (r *TicketRepository) Delete(ctx context.Context, id string) error {
	err := r.ds.Delete(ctx, backend.TableTickets, id)
	if errors.Is(err, backend.ErrNotFound) {
		return apperrors.ErrTicketNotFound
	}
	return err
}

// ListByUser returns the user's tickets newest first, each joined with its event
func (r *TicketRepository) ListByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	return r.list(ctx, backend.Filter{"user_id": userID}, 0)
}

// ListAll returns every ticket newest first for the admin console
func (r *TicketRepository) ListAll(ctx context.Context, limit int) ([]models.Ticket, error) {
	return r.list(ctx, nil, limit)
}

func (r *TicketRepository) list(ctx context.Context, filter backend.Filter, limit int) ([]models.Ticket, error) {
	rows, err := r.ds.Select(ctx, backend.TableTickets, backend.Query{
		Filter: filter,
		Order:  &backend.Order{Column: "created_at", Descending: true},
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []models.Ticket{}, nil
	}

	events, err := r.eventsByID(ctx)
	if err != nil {
		return nil, err
	}

	tickets := make([]models.Ticket, 0, len(rows))
	for _, row := range rows {
		ticket, err := decodeTicket(row)
		if err != nil {
			return nil, err
		}
		if event, ok := events[ticket.EventID]; ok {
			ticket.Event = event
		}
		tickets = append(tickets, *ticket)
	}
	return tickets, nil
}

// the backend contract has no joins; the catalog is small enough to read whole
func (r *TicketRepository) eventsByID(ctx context.Context) (map[string]*models.Event, error) {
	rows, err := r.ds.Select(ctx, backend.TableEvents, backend.Query{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Event, len(rows))
	for _, row := range rows {
		event, err := decodeEvent(row)
		if err != nil {
			return nil, err
		}
		out[event.ID] = event
	}
	return out, nil
}

// HolderIDs returns the distinct users holding a confirmed ticket
func (r *TicketRepository) HolderIDs(ctx context.Context) ([]string, error) {
	rows, err := r.ds.Select(ctx, backend.TableTickets, backend.Query{
		Filter: backend.Filter{"status": models.TicketConfirmed},
		Order:  &backend.Order{Column: "user_id"},
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ticket, err := decodeTicket(row)
		if err != nil {
			return nil, err
		}
		if !seen[ticket.UserID] {
			seen[ticket.UserID] = true
			ids = append(ids, ticket.UserID)
		}
	}
	return ids, nil
}
