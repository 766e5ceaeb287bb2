package models

import "time"

// NATS subjects
const (
	EventTicketBooked    = "ticket.booked"
	EventTicketCancelled = "ticket.cancelled"
	EventCounterDrift    = "counter.drift"
	EventCatalogChanged  = "catalog.changed"

	EventNotificationBroadcast = "notification.broadcast"
)

// TicketBookedEvent is published after a ticket row is inserted
type TicketBookedEvent struct {
	TicketID   string    `json:"ticket_id"`
	TicketCode string    `json:"ticket_code"`
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// TicketCancelledEvent is published after a ticket row is deleted
type TicketCancelledEvent struct {
	TicketID  string    `json:"ticket_id"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CounterDriftEvent is published when a counter adjustment was given up
type CounterDriftEvent struct {
	EventID   string    `json:"event_id"`
	Delta     int       `json:"delta"`
	Attempts  int       `json:"attempts"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// CatalogChangedEvent is published on admin create/update/delete
type CatalogChangedEvent struct {
	EventID   string    `json:"event_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationBroadcastEvent is published after an admin broadcast
type NotificationBroadcastEvent struct {
	Audience  string    `json:"audience"`
	Title     string    `json:"title"`
	Sent      int       `json:"sent"`
	SentBy    string    `json:"sent_by"`
	Timestamp time.Time `json:"timestamp"`
}
