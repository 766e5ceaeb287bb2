package repository

import (
	"context"
	"errors"
	"fmt"

	"festtix/internal/backend"
	apperrors "festtix/internal/errors"
	"festtix/internal/models"
)

type EventRepository struct {
	ds backend.DataService
}

func NewEventRepository(ds backend.DataService) *EventRepository {
	return &EventRepository{ds: ds}
}

func decodeEvent(row backend.Row) (*models.Event, error) {
	r := readRow(backend.TableEvents, row)
	event := &models.Event{
		ID:            r.String("id", true),
		Title:         r.String("title", true),
		Category:      r.String("category", false),
		Description:   r.String("description", false),
		StartsAt:      r.Time("event_date", false),
		Venue:         r.String("venue", false),
		Capacity:      r.Int("capacity"),
		TicketsBooked: r.Int("tickets_booked"),
		Duration:      r.String("duration", false),
		Emoji:         r.String("emoji", false),
		CreatedAt:     r.Time("created_at", false),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if event.Capacity <= 0 {
		return nil, fmt.Errorf("%w: events.capacity %d is not positive", apperrors.ErrInvalidRow, event.Capacity)
	}
	if event.TicketsBooked < 0 {
		return nil, fmt.Errorf("%w: events.tickets_booked %d is negative", apperrors.ErrInvalidRow, event.TicketsBooked)
	}
	return event, nil
}

// GetByID returns apperrors.ErrEventNotFound when no row matches
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	rows, err := r.ds.Select(ctx, backend.TableEvents, backend.Query{
		Filter: backend.Filter{"id": id},
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.ErrEventNotFound
	}
	return decodeEvent(rows[0])
}

// List returns events ordered by start time, optionally narrowed to one category
func (r *EventRepository) List(ctx context.Context, category string) ([]models.Event, error) {
	q := backend.Query{Order: &backend.Order{Column: "event_date"}}
	if category != "" {
		q.Filter = backend.Filter{"category": category}
	}
	rows, err := r.ds.Select(ctx, backend.TableEvents, q)
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(rows))
	for _, row := range rows {
		event, err := decodeEvent(row)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, nil
}

// Create inserts a new event; tickets_booked always starts at zero
func (r *EventRepository) Create(ctx context.Context, req *models.CreateEventRequest) (*models.Event, error) {
	row, err := r.ds.Insert(ctx, backend.TableEvents, backend.Row{
		"title":          req.Title,
		"category":       req.Category,
		"description":    req.Description,
		"event_date":     req.StartsAt,
		"venue":          req.Venue,
		"capacity":       req.Capacity,
		"tickets_booked": 0,
		"duration":       req.Duration,
		"emoji":          req.Emoji,
	})
	if err != nil {
		return nil, err
	}
	return decodeEvent(row)
}

// Update patches the fields present in req. The booked counter is never part
// of the patch.
func (r *EventRepository) Update(ctx context.Context, id string, req *models.UpdateEventRequest) (*models.Event, error) {
	patch := backend.Row{}
	if req.Title != nil {
		patch["title"] = *req.Title
	}
	if req.Category != nil {
		patch["category"] = *req.Category
	}
	if req.Description != nil {
		patch["description"] = *req.Description
	}
	if req.StartsAt != nil {
		patch["event_date"] = *req.StartsAt
	}
	if req.Venue != nil {
		patch["venue"] = *req.Venue
	}
	if req.Capacity != nil {
		patch["capacity"] = *req.Capacity
	}
	if req.Duration != nil {
		patch["duration"] = *req.Duration
	}
	if req.Emoji != nil {
		patch["emoji"] = *req.Emoji
	}
	if len(patch) == 0 {
		return r.GetByID(ctx, id)
	}

	row, err := r.ds.Update(ctx, backend.TableEvents, id, patch)
	if errors.Is(err, backend.ErrNotFound) {
		return nil, apperrors.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeEvent(row)
}

// Delete removes the event and, through the foreign key, its tickets
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	err := r.ds.Delete(ctx, backend.TableEvents, id)
	if errors.Is(err, backend.ErrNotFound) {
		return apperrors.ErrEventNotFound
	}
	return err
}

// SetBooked overwrites the counter. Only the cancel fallback uses it when
// decrement_tickets is unavailable.
func (r *EventRepository) SetBooked(ctx context.Context, id string, booked int) (*models.Event, error) {
	row, err := r.ds.Update(ctx, backend.TableEvents, id, backend.Row{"tickets_booked": booked})
	if errors.Is(err, backend.ErrNotFound) {
		return nil, apperrors.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeEvent(row)
}

// Increment calls increment_tickets and returns the new count
func (r *EventRepository) Increment(ctx context.Context, id string) (int, error) {
	return r.counter(ctx, backend.ProcIncrementTickets, id)
}

// Decrement calls decrement_tickets; the procedure clamps at zero
func (r *EventRepository) Decrement(ctx context.Context, id string) (int, error) {
	return r.counter(ctx, backend.ProcDecrementTickets, id)
}

// Reconcile recounts the event's tickets server-side
func (r *EventRepository) Reconcile(ctx context.Context, id string) (int, error) {
	return r.counter(ctx, backend.ProcReconcileTickets, id)
}

func (r *EventRepository) counter(ctx context.Context, proc, id string) (int, error) {
	result, err := r.ds.CallProcedure(ctx, proc, backend.Row{"event_id": id})
	if errors.Is(err, backend.ErrNotFound) {
		return 0, apperrors.ErrEventNotFound
	}
	if err != nil {
		return 0, err
	}
	n, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: %s returned %T", apperrors.ErrInvalidRow, proc, result)
	}
	return int(n), nil
}
