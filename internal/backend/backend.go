// Package backend defines the table/procedure/subscription contract the
// booking workflow needs from the hosted data service. Rows are untyped maps
// here; internal/repository turns them into models and rejects bad shapes.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Tables
const (
	TableEvents        = "events"
	TableTickets       = "tickets"
	TableProfiles      = "profiles"
	TableActivities    = "user_activity_logs"
	TableNotifications = "notifications"
)

// Procedures
const (
	ProcIncrementTickets = "increment_tickets"
	ProcDecrementTickets = "decrement_tickets"
	ProcReconcileTickets = "reconcile_tickets"
	ProcBookTicket       = "book_ticket"
)

var (
	ErrNotFound             = errors.New("backend: row not found")
	ErrProcedureUnavailable = errors.New("backend: procedure unavailable")
	ErrUnavailable          = errors.New("backend: service unavailable")
	ErrUnknownTable         = errors.New("backend: unknown table")
)

// ConstraintError is returned when a write violates a backend constraint
type ConstraintError struct {
	Table      string
	Constraint string
	Detail     string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("backend: %s violates constraint %q: %s", e.Table, e.Constraint, e.Detail)
}

// Row is one table row keyed by column name
type Row map[string]any

// Filter is a conjunction of column = value predicates
type Filter map[string]any

// Matches reports whether row satisfies every predicate in f
func (f Filter) Matches(row Row) bool {
	for col, want := range f {
		if fmt.Sprint(row[col]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// Order sorts a selection by one column
type Order struct {
	Column     string
	Descending bool
}

// Query narrows a Select
type Query struct {
	Filter Filter
	Order  *Order
	Limit  int
}

// ChangeType of a realtime change
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	// ChangeResync is sent after the change channel reconnects; changes may
	// have been missed and subscribers should refetch.
	ChangeResync ChangeType = "RESYNC"
)

// Change is one realtime notification
type Change struct {
	Table      string     `json:"table"`
	Type       ChangeType `json:"type"`
	New        Row        `json:"new,omitempty"`
	Old        Row        `json:"old,omitempty"`
	CommitTime time.Time  `json:"commit_time"`
}

// Subscription is the handle returned by Subscribe
type Subscription interface {
	Unsubscribe() error
}

// DataService is the hosted backend: request/response table access, remote
// procedures and a change feed.
type DataService interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table, id string, patch Row) (Row, error)
	Delete(ctx context.Context, table, id string) error
	CallProcedure(ctx context.Context, name string, args Row) (any, error)
	Subscribe(ctx context.Context, table string, filter Filter, onChange func(Change)) (Subscription, error)
	Close() error
}

// SubscriptionFunc adapts a function to Subscription
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error { return f() }

// IsConstraint reports whether err is a constraint violation
func IsConstraint(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}
