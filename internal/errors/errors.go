// Package errors holds the error taxonomy shared by the booking workflow and
// the HTTP layer. Import it as apperrors.
package errors

import (
	"errors"
	"fmt"
)

var ErrUnauthorized = errors.New("user is not authorized")
var ErrForbidden = errors.New("operation is forbidden for user")

// Booking workflow failures, returned to the caller as-is.
var (
	ErrEventFull       = errors.New("event is fully booked")
	ErrAlreadyBooked   = errors.New("user already has a ticket for this event")
	ErrBookingConflict = errors.New("backend rejected the booking")
	ErrCancelFailed    = errors.New("ticket cancellation failed")
)

var (
	ErrNetwork              = errors.New("backend unreachable")
	ErrEventNotFound        = errors.New("event not found")
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidRow           = errors.New("malformed row from backend")
	ErrValidation           = errors.New("validation failed")
)

// CounterDriftWarning records that an event's tickets_booked counter could not
// be adjusted, so cached capacity may be off until the next refresh. It is
// logged, never returned to users.
type CounterDriftWarning struct {
	EventID  string
	Delta    int
	Attempts int
	Cause    error
}

func (w *CounterDriftWarning) Error() string {
	return fmt.Sprintf("counter drift on event %s (delta %+d after %d attempts): %v", w.EventID, w.Delta, w.Attempts, w.Cause)
}

func (w *CounterDriftWarning) Unwrap() error { return w.Cause }

// Code returns a stable machine-readable code for known errors, or "" when
// the error is not part of the taxonomy.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEventFull):
		return "EVENT_FULL"
	case errors.Is(err, ErrAlreadyBooked):
		return "ALREADY_BOOKED"
	case errors.Is(err, ErrBookingConflict):
		return "BOOKING_CONFLICT"
	case errors.Is(err, ErrCancelFailed):
		return "CANCEL_FAILED"
	case errors.Is(err, ErrEventNotFound):
		return "EVENT_NOT_FOUND"
	case errors.Is(err, ErrTicketNotFound):
		return "TICKET_NOT_FOUND"
	case errors.Is(err, ErrNotificationNotFound):
		return "NOTIFICATION_NOT_FOUND"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILED"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNetwork):
		return "NETWORK_ERROR"
	}
	var drift *CounterDriftWarning
	if errors.As(err, &drift) {
		return "COUNTER_DRIFT"
	}
	return ""
}

// ValidationError carries per-field problems; it matches ErrValidation
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %d field(s)", len(e.Fields))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
