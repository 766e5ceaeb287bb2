package models

import (
	"time"
)

// Ticket statuses
const (
	TicketConfirmed = "confirmed"
	TicketPending   = "pending"
	TicketCancelled = "cancelled"
)

// Profile roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Profile is the booking actor's identity; only the id and role matter here
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAdmin reports whether the profile may use admin operations
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Event represents a festival event with its capacity counters
type Event struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Category      string    `json:"category"`
	Description   string    `json:"description"`
	StartsAt      time.Time `json:"event_date"`
	Venue         string    `json:"venue"`
	Capacity      int       `json:"capacity"`
	TicketsBooked int       `json:"tickets_booked"`
	Duration      string    `json:"duration"`
	Emoji         string    `json:"emoji"`
	CreatedAt     time.Time `json:"created_at"`
}

// Remaining returns the number of free places, never negative
func (e *Event) Remaining() int {
	if e.TicketsBooked >= e.Capacity {
		return 0
	}
	return e.Capacity - e.TicketsBooked
}

// Ticket represents one booking of one event by one user
type Ticket struct {
	ID         string    `json:"id"`
	TicketCode string    `json:"ticket_code"`
	UserID     string    `json:"user_id"`
	EventID    string    `json:"event_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	Event      *Event    `json:"event,omitempty"` // joined for display, not stored
}

// Capacity is the best-known counter pair for one event
type Capacity struct {
	EventID   string    `json:"event_id"`
	Capacity  int       `json:"capacity"`
	Booked    int       `json:"booked"`
	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFull reports booked >= capacity
func (c Capacity) IsFull() bool {
	return c.Booked >= c.Capacity
}

// Activity is an audit row written on user-visible actions
type Activity struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notification is one message in a user's inbox
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
