package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"festtix/internal/backend"
	apperrors "festtix/internal/errors"
	"festtix/internal/ledger"
	"festtix/internal/logger"
	"festtix/internal/models"
	"festtix/internal/repository"
	"festtix/internal/ticketcache"
)

// CatalogCache holds the event list between requests
type CatalogCache interface {
	Events(ctx context.Context) ([]models.Event, bool, error)
	StoreEvents(ctx context.Context, events []models.Event) error
	Invalidate(ctx context.Context) error
}

// EventIndex is the free-text search over the catalog
type EventIndex interface {
	Search(ctx context.Context, query, category string) ([]string, error)
	IndexEvent(ctx context.Context, event *models.Event) error
	DeleteEvent(ctx context.Context, id string) error
}

// EventService serves the catalog and the admin event operations
type EventService struct {
	events     *repository.EventRepository
	activities *repository.ActivityRepository
	ledger     *ledger.Ledger
	tickets    *ticketcache.Cache
	catalog    CatalogCache
	index      EventIndex
	publisher  Publisher
	now        func() time.Time
}

// NewEventService builds the service; catalog and index may be nil
func NewEventService(repos *repository.Repositories, ledger *ledger.Ledger, tickets *ticketcache.Cache, publisher Publisher, catalog CatalogCache, index EventIndex) *EventService {
	return &EventService{
		events:     repos.Events,
		activities: repos.Activities,
		ledger:     ledger,
		tickets:    tickets,
		catalog:    catalog,
		index:      index,
		publisher:  publisher,
		now:        time.Now,
	}
}

// List returns the catalog ordered by start time, or by relevance when a
// search index answers the query
func (s *EventService) List(ctx context.Context, q models.ListEventsQuery) ([]models.Event, error) {
	all, err := s.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.Event
	for _, e := range all {
		if q.Category == "" || strings.EqualFold(e.Category, q.Category) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })

	query := strings.TrimSpace(q.Query)
	if query == "" {
		return nonNil(out), nil
	}

	if s.index != nil {
		ids, err := s.index.Search(ctx, query, q.Category)
		if err == nil {
			return nonNil(pickByID(out, ids)), nil
		}
		logger.WithContext(ctx).Warn("Search failed, falling back to substring match", "error", err)
	}
	return nonNil(matchText(out, query)), nil
}

// loadCatalog reads through the cache. Counters of cached rows are replaced
// with the ledger's, which realtime keeps fresher than any cached copy. A
// cached row the ledger does not know yet sends the read to the backend.
func (s *EventService) loadCatalog(ctx context.Context) ([]models.Event, error) {
	if s.catalog == nil {
		return s.loadFromBackend(ctx)
	}

	events, ok, err := s.catalog.Events(ctx)
	if err != nil {
		logger.WithContext(ctx).Warn("Catalog cache unavailable", "error", err)
	}
	if !ok {
		return s.loadFromBackend(ctx)
	}

	complete := true
	for i := range events {
		c, known := s.ledger.Get(events[i].ID)
		if !known {
			complete = false
			continue
		}
		events[i].Capacity = c.Capacity
		events[i].TicketsBooked = c.Booked
	}
	if complete {
		return events, nil
	}

	fresh, err := s.loadFromBackend(ctx)
	if err != nil {
		logger.WithContext(ctx).Warn("Serving cached counters", "error", err)
		return events, nil
	}
	return fresh, nil
}

func (s *EventService) loadFromBackend(ctx context.Context) ([]models.Event, error) {
	events, err := s.events.List(ctx, "")
	if err != nil {
		return nil, backendError("list events", err)
	}
	for i := range events {
		s.ledger.Observe(&events[i])
	}
	if s.catalog != nil {
		if err := s.catalog.StoreEvents(ctx, events); err != nil {
			logger.WithContext(ctx).Warn("Failed to cache catalog", "error", err)
		}
	}
	return events, nil
}

func (s *EventService) Get(ctx context.Context, id string) (*models.Event, error) {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrEventNotFound) {
			s.ledger.Forget(id)
		}
		return nil, backendError("get event", err)
	}
	s.ledger.Observe(event)
	return event, nil
}

// Create adds an event; its booked counter starts at zero
func (s *EventService) Create(ctx context.Context, actor *models.Profile, req *models.CreateEventRequest) (*models.Event, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if problems := req.Validate(); len(problems) > 0 {
		return nil, &apperrors.ValidationError{Fields: problems}
	}

	event, err := s.events.Create(ctx, req)
	if err != nil {
		return nil, writeError("create event", err)
	}
	s.ledger.Observe(event)
	s.afterWrite(ctx, actor, event.ID, repository.ActionEventCreated, event)

	logger.WithContext(ctx).Info("Event created", "event_id", event.ID, "title", event.Title)
	return event, nil
}

// Update patches descriptive fields and capacity. The booked counter cannot
// be set through here.
func (s *EventService) Update(ctx context.Context, actor *models.Profile, id string, req *models.UpdateEventRequest) (*models.Event, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if problems := req.Validate(); len(problems) > 0 {
		return nil, &apperrors.ValidationError{Fields: problems}
	}

	event, err := s.events.Update(ctx, id, req)
	if err != nil {
		return nil, writeError("update event", err)
	}
	s.ledger.Observe(event)
	s.tickets.MarkEventStale(id)
	s.afterWrite(ctx, actor, id, repository.ActionEventUpdated, event)

	logger.WithContext(ctx).Info("Event updated", "event_id", id)
	return event, nil
}

// Delete removes the event together with its tickets
func (s *EventService) Delete(ctx context.Context, actor *models.Profile, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.events.Delete(ctx, id); err != nil {
		return writeError("delete event", err)
	}
	s.ledger.Forget(id)
	s.tickets.MarkEventStale(id)
	s.afterWrite(ctx, actor, id, repository.ActionEventDeleted, nil)

	logger.WithContext(ctx).Info("Event deleted", "event_id", id)
	return nil
}

// afterWrite keeps cache, index, audit log and subscribers in step with an
// admin write. None of these can fail the write.
func (s *EventService) afterWrite(ctx context.Context, actor *models.Profile, eventID, action string, event *models.Event) {
	log := logger.WithContext(ctx).With("event_id", eventID, "action", action)

	if s.catalog != nil {
		if err := s.catalog.Invalidate(ctx); err != nil {
			log.Warn("Failed to invalidate catalog cache", "error", err)
		}
	}
	if s.index != nil {
		var err error
		if event == nil {
			err = s.index.DeleteEvent(ctx, eventID)
		} else {
			err = s.index.IndexEvent(ctx, event)
		}
		if err != nil {
			log.Warn("Failed to update search index", "error", err)
		}
	}

	if err := s.activities.Log(ctx, actor.ID, action, map[string]any{"event_id": eventID}); err != nil {
		log.Warn("Failed to write activity log", "error", err)
	}
	if err := s.publisher.Publish(models.EventCatalogChanged, models.CatalogChangedEvent{
		EventID:   eventID,
		Action:    action,
		Timestamp: s.now(),
	}); err != nil {
		log.Error("Failed to publish catalog change", "error", err)
	}
}

func requireAdmin(actor *models.Profile) error {
	if actor == nil || actor.ID == "" {
		return apperrors.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return apperrors.ErrForbidden
	}
	return nil
}

// writeError turns schema constraint violations into validation errors
func writeError(op string, err error) error {
	var ce *backend.ConstraintError
	if errors.As(err, &ce) {
		return &apperrors.ValidationError{Fields: map[string]string{ce.Constraint: ce.Detail}}
	}
	return backendError(op, err)
}

func pickByID(events []models.Event, ids []string) []models.Event {
	byID := make(map[string]models.Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}
	out := make([]models.Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

func matchText(events []models.Event, query string) []models.Event {
	needle := strings.ToLower(query)
	var out []models.Event
	for _, e := range events {
		haystack := strings.ToLower(strings.Join([]string{e.Title, e.Description, e.Venue, e.Category}, " "))
		if strings.Contains(haystack, needle) {
			out = append(out, e)
		}
	}
	return out
}

func nonNil(events []models.Event) []models.Event {
	if events == nil {
		return []models.Event{}
	}
	return events
}
