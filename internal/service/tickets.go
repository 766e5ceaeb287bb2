package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"festtix/internal/backend"
	apperrors "festtix/internal/errors"
	"festtix/internal/ledger"
	"festtix/internal/logger"
	"festtix/internal/metrics"
	"festtix/internal/models"
	"festtix/internal/repository"
	"festtix/internal/ticketcache"
)

// capacityGuardConstraint is raised by book_ticket when the event is full
const capacityGuardConstraint = "events_capacity_guard"

// Publisher sends domain events; failures never fail the operation
type Publisher interface {
	Publish(subject string, data any) error
}

// BookingOptions selects how bookings reach the backend
type BookingOptions struct {
	// ServerGuard books through book_ticket (capacity checked atomically)
	// instead of insert + background increment
	ServerGuard bool
}

// BookingService is the ticket booking workflow
type BookingService struct {
	events     *repository.EventRepository
	tickets    *repository.TicketRepository
	activities *repository.ActivityRepository
	ledger     *ledger.Ledger
	cache      *ticketcache.Cache
	counters   *CounterQueue
	codes      *CodeGenerator
	publisher  Publisher
	opts       BookingOptions
	now        func() time.Time
}

func NewBookingService(
	repos *repository.Repositories,
	ledger *ledger.Ledger,
	cache *ticketcache.Cache,
	counters *CounterQueue,
	codes *CodeGenerator,
	publisher Publisher,
	opts BookingOptions,
) *BookingService {
	s := &BookingService{
		events:     repos.Events,
		tickets:    repos.Tickets,
		activities: repos.Activities,
		ledger:     ledger,
		cache:      cache,
		counters:   counters,
		codes:      codes,
		publisher:  publisher,
		opts:       opts,
		now:        time.Now,
	}
	counters.OnApply(s.counterApplied)
	counters.OnDrift(s.counterDrift)
	return s
}

// BookTicket books one free ticket for the user.
//
// The capacity check is advisory: it reads a fresh copy of the counter, but
// another client can take the last place between the check and the insert.
// Only ServerGuard closes that window.
func (s *BookingService) BookTicket(ctx context.Context, eventID, userID string) (*models.Ticket, error) {
	log := logger.WithContext(ctx).With("event_id", eventID, "user_id", userID)
	if userID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	event, capacity, err := s.precheck(ctx, eventID)
	if err != nil {
		s.countBooking(err)
		return nil, err
	}
	if capacity.IsFull() {
		log.Info("Booking rejected, event is full", "capacity", capacity.Capacity, "booked", capacity.Booked)
		s.countBooking(apperrors.ErrEventFull)
		return nil, apperrors.ErrEventFull
	}

	existing, err := s.tickets.FindActive(ctx, eventID, userID)
	if err != nil {
		err = backendError("check existing ticket", err)
		s.countBooking(err)
		return nil, err
	}
	if existing != nil {
		s.countBooking(apperrors.ErrAlreadyBooked)
		return nil, apperrors.ErrAlreadyBooked
	}

	code := s.codes.Next()
	s.cache.ExpectBooking(code)
	var ticket *models.Ticket
	if s.opts.ServerGuard {
		ticket, err = s.tickets.Book(ctx, eventID, userID, code)
	} else {
		ticket, err = s.tickets.Create(ctx, eventID, userID, code)
	}
	if err != nil {
		s.cache.ForgetBooking(code)
		err = s.insertError(eventID, err)
		log.Warn("Ticket insert rejected", "error", err, "ticket_code", code)
		s.countBooking(err)
		return nil, err
	}

	if !s.opts.ServerGuard {
		// fire and forget: the booking stands even if the counter lags
		s.counters.Enqueue(eventID, +1)
	}

	ticket.Event = event
	s.cache.UpsertFromBooking(*ticket)
	s.countBooking(nil)

	log.Info("Ticket booked", "ticket_id", ticket.ID, "ticket_code", ticket.TicketCode)

	s.logActivity(ctx, userID, repository.ActionTicketBooked, map[string]any{
		"ticket_id":   ticket.ID,
		"ticket_code": ticket.TicketCode,
		"event_id":    eventID,
		"event_title": event.Title,
	})
	s.publish(ctx, models.EventTicketBooked, models.TicketBookedEvent{
		TicketID:   ticket.ID,
		TicketCode: ticket.TicketCode,
		EventID:    eventID,
		UserID:     userID,
		Timestamp:  s.now(),
	})

	return ticket, nil
}

// precheck refreshes the ledger from the backend; when the backend cannot be
// reached the last known counters are used instead
func (s *BookingService) precheck(ctx context.Context, eventID string) (*models.Event, models.Capacity, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err == nil {
		return event, s.ledger.Observe(event), nil
	}
	if errors.Is(err, apperrors.ErrEventNotFound) {
		s.ledger.Forget(eventID)
		return nil, models.Capacity{}, err
	}
	if capacity, ok := s.ledger.Get(eventID); ok && !isContextError(err) {
		logger.WithContext(ctx).Warn("Capacity refresh failed, using cached counters",
			"event_id", eventID, "error", err)
		return &models.Event{ID: eventID, Capacity: capacity.Capacity, TicketsBooked: capacity.Booked}, capacity, nil
	}
	return nil, models.Capacity{}, backendError("refresh capacity", err)
}

func (s *BookingService) insertError(eventID string, err error) error {
	var ce *backend.ConstraintError
	if errors.As(err, &ce) {
		if ce.Constraint == capacityGuardConstraint {
			s.ledger.MarkStale(eventID)
			return apperrors.ErrEventFull
		}
		return fmt.Errorf("%w: %s", apperrors.ErrBookingConflict, ce.Constraint)
	}
	return backendError("insert ticket", err)
}

// CancelTicket deletes the ticket and gives its place back.
//
// The cache entry goes as soon as the delete succeeds. The decrement after
// that outlives the caller's context. If it still fails ErrCancelFailed is
// reported and the -1 is handed to the counter queue, which retries and
// reports drift when it gives up.
func (s *BookingService) CancelTicket(ctx context.Context, actor *models.Profile, ticketID, eventID string) error {
	if actor == nil || actor.ID == "" {
		return apperrors.ErrUnauthorized
	}
	log := logger.WithContext(ctx).With("ticket_id", ticketID, "user_id", actor.ID)

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		s.countCancel(err)
		if errors.Is(err, apperrors.ErrTicketNotFound) {
			return fmt.Errorf("%w: %w", apperrors.ErrCancelFailed, err)
		}
		return fmt.Errorf("%w: %w", apperrors.ErrCancelFailed, backendError("load ticket", err))
	}
	// stands in for the hosted backend's row-level access policy
	if ticket.UserID != actor.ID && !actor.IsAdmin() {
		s.countCancel(apperrors.ErrForbidden)
		return apperrors.ErrForbidden
	}
	if eventID == "" {
		eventID = ticket.EventID
	}
	if eventID != ticket.EventID {
		s.countCancel(apperrors.ErrValidation)
		return &apperrors.ValidationError{Fields: map[string]string{"event_id": "does not match the ticket's event"}}
	}

	if err := s.tickets.Delete(ctx, ticketID); err != nil {
		s.countCancel(err)
		if errors.Is(err, apperrors.ErrTicketNotFound) {
			return fmt.Errorf("%w: %w", apperrors.ErrCancelFailed, err)
		}
		return fmt.Errorf("%w: %w", apperrors.ErrCancelFailed, backendError("delete ticket", err))
	}
	s.cache.RemoveOnCancel(ticketID)

	// the row is gone; an abandoned request must not leave the counter behind
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.counters.cfg.AttemptTimeout)
	booked, err := s.decrement(dctx, eventID)
	cancel()
	if err != nil {
		s.ledger.MarkStale(eventID)
		s.countCancel(err)
		log.Error("Ticket deleted but counter not decremented, retrying in background", "event_id", eventID, "error", err)
		s.counters.Enqueue(eventID, -1)
		return fmt.Errorf("%w: %w", apperrors.ErrCancelFailed, backendError("decrement counter", err))
	}
	s.ledger.ApplyRemotePatch(eventID, booked, time.Time{})
	s.countCancel(nil)

	log.Info("Ticket cancelled", "event_id", eventID, "booked", booked)

	s.logActivity(ctx, ticket.UserID, repository.ActionTicketCancelled, map[string]any{
		"ticket_id":    ticket.ID,
		"ticket_code":  ticket.TicketCode,
		"event_id":     eventID,
		"cancelled_by": actor.ID,
	})
	s.publish(ctx, models.EventTicketCancelled, models.TicketCancelledEvent{
		TicketID:  ticket.ID,
		EventID:   eventID,
		UserID:    ticket.UserID,
		Timestamp: s.now(),
	})
	return nil
}

// decrement uses the atomic procedure, falling back to read-then-write when
// the procedure does not exist. The fallback loses updates under concurrent
// cancellations.
func (s *BookingService) decrement(ctx context.Context, eventID string) (int, error) {
	booked, err := s.events.Decrement(ctx, eventID)
	if !errors.Is(err, backend.ErrProcedureUnavailable) {
		return booked, err
	}

	logger.WithContext(ctx).Warn("decrement_tickets unavailable, using non-atomic fallback", "event_id", eventID)
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return 0, err
	}
	event, err = s.events.SetBooked(ctx, eventID, max(event.TicketsBooked-1, 0))
	if err != nil {
		return 0, err
	}
	return event.TicketsBooked, nil
}

// Capacity refreshes and returns the event's counters. If the backend is
// unreachable the cached pair is returned flagged stale.
func (s *BookingService) Capacity(ctx context.Context, eventID string) (models.Capacity, error) {
	capacity, err := s.ledger.Refresh(ctx, eventID)
	if err == nil {
		return capacity, nil
	}
	if errors.Is(err, apperrors.ErrEventNotFound) {
		s.ledger.Forget(eventID)
		return models.Capacity{}, err
	}
	if cached, ok := s.ledger.Get(eventID); ok && !isContextError(err) {
		logger.WithContext(ctx).Warn("Serving cached capacity", "event_id", eventID, "error", err)
		cached.Stale = true
		return cached, nil
	}
	return models.Capacity{}, backendError("refresh capacity", err)
}

// WatchCapacity streams live counter changes for one event
func (s *BookingService) WatchCapacity(eventID string) (<-chan models.Capacity, func()) {
	return s.ledger.Watch(eventID)
}

// UserTickets returns the user's tickets newest first; stale is set when the
// list could not be reloaded
func (s *BookingService) UserTickets(ctx context.Context, userID string) ([]models.Ticket, bool, error) {
	if userID == "" {
		return nil, false, apperrors.ErrUnauthorized
	}
	tickets, stale, err := s.cache.Get(ctx, userID)
	if err != nil {
		return nil, false, backendError("load tickets", err)
	}
	return tickets, stale, nil
}

// AllTickets lists every ticket for administrators
func (s *BookingService) AllTickets(ctx context.Context, limit int) ([]models.Ticket, error) {
	tickets, err := s.tickets.ListAll(ctx, limit)
	if err != nil {
		return nil, backendError("list tickets", err)
	}
	return tickets, nil
}

// counterDrift re-syncs projections after a background adjustment was given up
func (s *BookingService) counterDrift(w *apperrors.CounterDriftWarning) {
	s.ledger.MarkStale(w.EventID)

	reason := ""
	if w.Cause != nil {
		reason = w.Cause.Error()
	}
	if err := s.publisher.Publish(models.EventCounterDrift, models.CounterDriftEvent{
		EventID:   w.EventID,
		Delta:     w.Delta,
		Attempts:  w.Attempts,
		Reason:    reason,
		Timestamp: s.now(),
	}); err != nil {
		logger.Get().Error("Failed to publish counter drift event", "error", err, "event_id", w.EventID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.ledger.Refresh(ctx, w.EventID); err != nil {
		logger.Get().Warn("Ledger refresh after drift failed", "event_id", w.EventID, "error", err)
	}
}

func (s *BookingService) counterApplied(eventID string, booked int) {
	s.ledger.ApplyRemotePatch(eventID, booked, time.Time{})
}

func (s *BookingService) logActivity(ctx context.Context, userID, action string, metadata map[string]any) {
	if err := s.activities.Log(ctx, userID, action, metadata); err != nil {
		logger.WithContext(ctx).Warn("Failed to write activity log", "action", action, "error", err)
	}
}

func (s *BookingService) publish(ctx context.Context, subject string, data any) {
	if err := s.publisher.Publish(subject, data); err != nil {
		// Log error but don't fail the operation
		logger.WithContext(ctx).Error("Failed to publish event", "error", err, "event_type", subject)
	}
}

func (s *BookingService) countBooking(err error) {
	metrics.BookingsTotal.WithLabelValues(outcome(err)).Inc()
}

func (s *BookingService) countCancel(err error) {
	metrics.CancellationsTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := apperrors.Code(err); code != "" {
		return code
	}
	return "error"
}

// backendError keeps taxonomy errors and context errors as they are and
// reports everything else as a network failure
func backendError(op string, err error) error {
	switch {
	case isContextError(err),
		errors.Is(err, apperrors.ErrEventNotFound),
		errors.Is(err, apperrors.ErrTicketNotFound),
		errors.Is(err, apperrors.ErrNotificationNotFound),
		errors.Is(err, apperrors.ErrInvalidRow),
		errors.Is(err, apperrors.ErrNetwork):
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, apperrors.ErrNetwork, err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
