// Package ticketcache holds each user's ticket list as last read from the
// backend, patched by the booking workflow's own writes. Entries can be
// marked stale and are then reloaded on the next read.
package ticketcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"festtix/internal/models"
)

// Loader fetches a user's full ticket list, newest first
type Loader interface {
	ListByUser(ctx context.Context, userID string) ([]models.Ticket, error)
}

type entry struct {
	tickets  []models.Ticket
	stale    bool
	loadedAt time.Time
}

type Cache struct {
	loader Loader
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	// ticket codes being inserted by this process
	pending map[string]struct{}
}

func New(loader Loader, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		loader:  loader,
		now:     now,
		entries: make(map[string]*entry),
		pending: make(map[string]struct{}),
	}
}

// Load refetches the user's whole list and replaces the cached one
func (c *Cache) Load(ctx context.Context, userID string) ([]models.Ticket, error) {
	tickets, err := c.loader.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[userID] = &entry{tickets: clone(tickets), loadedAt: c.now()}
	c.mu.Unlock()

	return tickets, nil
}

// Get serves the cached list, loading it when missing or stale. If a stale
// list cannot be reloaded it is returned with stale=true instead of an error.
func (c *Cache) Get(ctx context.Context, userID string) (tickets []models.Ticket, stale bool, err error) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	hit := ok && !e.stale
	if hit {
		tickets = clone(e.tickets)
	}
	c.mu.RUnlock()
	if hit {
		return tickets, false, nil
	}

	fresh, err := c.Load(ctx, userID)
	if err == nil {
		return fresh, false, nil
	}
	if !ok {
		return nil, false, err
	}

	slog.Warn("Serving stale ticket list", "user_id", userID, "error", err)
	c.mu.RLock()
	tickets = clone(e.tickets)
	c.mu.RUnlock()
	return tickets, true, nil
}

// UpsertFromBooking prepends a freshly booked ticket to a loaded list, or
// replaces the entry with the same id. Users not loaded yet are skipped: their
// first read fetches the ticket from the backend.
func (c *Cache) UpsertFromBooking(ticket models.Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, ticket.TicketCode)
	e, ok := c.entries[ticket.UserID]
	if !ok {
		return
	}
	for i := range e.tickets {
		if e.tickets[i].ID == ticket.ID {
			e.tickets[i] = ticket
			return
		}
	}
	e.tickets = append([]models.Ticket{ticket}, e.tickets...)
}

// ExpectBooking registers a ticket code about to be inserted, so the change
// feed's echo of the insert is not mistaken for a booking made elsewhere.
// UpsertFromBooking or ForgetBooking clears it.
func (c *Cache) ExpectBooking(code string) {
	c.mu.Lock()
	c.pending[code] = struct{}{}
	c.mu.Unlock()
}

// ForgetBooking clears a code whose insert failed
func (c *Cache) ForgetBooking(code string) {
	c.mu.Lock()
	delete(c.pending, code)
	c.mu.Unlock()
}

// IsOwnBooking reports whether the ticket was booked through this cache,
// either still in flight or already upserted
func (c *Cache) IsOwnBooking(ticket models.Ticket) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.pending[ticket.TicketCode]; ok {
		return true
	}
	if e, ok := c.entries[ticket.UserID]; ok {
		for _, t := range e.tickets {
			if t.ID == ticket.ID {
				return true
			}
		}
	}
	return false
}

// RemoveOnCancel drops the ticket from whichever list holds it
func (c *Cache) RemoveOnCancel(ticketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		for i := range e.tickets {
			if e.tickets[i].ID == ticketID {
				e.tickets = append(e.tickets[:i:i], e.tickets[i+1:]...)
				return
			}
		}
	}
}

// MarkStale forces the next Get for the user to reload
func (c *Cache) MarkStale(userID string) {
	c.mu.Lock()
	if e, ok := c.entries[userID]; ok {
		e.stale = true
	}
	c.mu.Unlock()
}

// MarkAllStale is used after a realtime resync, when changes may have been missed
func (c *Cache) MarkAllStale() {
	c.mu.Lock()
	for _, e := range c.entries {
		e.stale = true
	}
	c.mu.Unlock()
}

// MarkEventStale flags every list holding a ticket for the event, so that
// event edits show up in the joined rows.
func (c *Cache) MarkEventStale(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		for _, t := range e.tickets {
			if t.EventID == eventID {
				e.stale = true
				break
			}
		}
	}
}

func clone(tickets []models.Ticket) []models.Ticket {
	out := make([]models.Ticket, len(tickets))
	copy(out, tickets)
	return out
}
