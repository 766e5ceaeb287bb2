// Package ledger keeps the best-known capacity/booked pair per event. It is a
// projection of the backend's events table, rebuilt by Refresh and patched by
// realtime updates; nothing here is authoritative.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"festtix/internal/models"
)

// EventSource reads the authoritative event row
type EventSource interface {
	GetByID(ctx context.Context, id string) (*models.Event, error)
}

type entry struct {
	capacity  models.Capacity
	patchedAt time.Time // commit time of the newest patch seen
}

type watcher struct {
	eventID string
	ch      chan models.Capacity
}

// Ledger is safe for concurrent use
type Ledger struct {
	source EventSource
	now    func() time.Time

	mu       sync.RWMutex
	entries  map[string]*entry
	watchers map[int]*watcher
	nextID   int
}

func New(source EventSource, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		source:   source,
		now:      now,
		entries:  make(map[string]*entry),
		watchers: make(map[int]*watcher),
	}
}

// Refresh fetches the event and overwrites local state unconditionally.
// Errors are returned as-is and leave the previous entry in place.
func (l *Ledger) Refresh(ctx context.Context, eventID string) (models.Capacity, error) {
	event, err := l.source.GetByID(ctx, eventID)
	if err != nil {
		return models.Capacity{}, err
	}
	return l.Observe(event), nil
}

// Observe records an event row fetched elsewhere (catalog list, realtime insert)
func (l *Ledger) Observe(event *models.Event) models.Capacity {
	c := models.Capacity{
		EventID:   event.ID,
		Capacity:  event.Capacity,
		Booked:    event.TicketsBooked,
		UpdatedAt: l.now(),
	}

	l.mu.Lock()
	l.entries[event.ID] = &entry{capacity: c}
	l.mu.Unlock()

	l.notify(c)
	return c
}

// ApplyRemotePatch replaces the booked count of a known event. Patches are
// applied last-write-wins: one carrying an older commit time than a patch
// already applied still overwrites. Returns false when the event is unknown.
func (l *Ledger) ApplyRemotePatch(eventID string, booked int, committedAt time.Time) bool {
	l.mu.Lock()
	e, ok := l.entries[eventID]
	if !ok {
		l.mu.Unlock()
		return false
	}
	if !committedAt.IsZero() && committedAt.Before(e.patchedAt) {
		slog.Debug("Applying out-of-order capacity patch",
			"event_id", eventID,
			"booked", booked,
			"previous_booked", e.capacity.Booked,
			"committed_at", committedAt,
			"newest_seen", e.patchedAt,
		)
	}
	e.capacity.Booked = booked
	e.capacity.Stale = false
	e.capacity.UpdatedAt = l.now()
	if committedAt.After(e.patchedAt) {
		e.patchedAt = committedAt
	}
	c := e.capacity
	l.mu.Unlock()

	l.notify(c)
	return true
}

// Get returns the local view without touching the backend
func (l *Ledger) Get(eventID string) (models.Capacity, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[eventID]
	if !ok {
		return models.Capacity{}, false
	}
	return e.capacity, true
}

// IsFull is booked >= capacity on local, possibly stale, state. Unknown
// events are reported as not full.
func (l *Ledger) IsFull(eventID string) bool {
	c, ok := l.Get(eventID)
	return ok && c.IsFull()
}

// MarkStale flags an entry whose counter is known to have drifted
func (l *Ledger) MarkStale(eventID string) {
	l.mu.Lock()
	e, ok := l.entries[eventID]
	if ok {
		e.capacity.Stale = true
	}
	l.mu.Unlock()
}

// Forget drops a deleted event
func (l *Ledger) Forget(eventID string) {
	l.mu.Lock()
	delete(l.entries, eventID)
	l.mu.Unlock()
}

// Known lists the event ids currently held
func (l *Ledger) Known() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	return ids
}

// Watch streams every change to one event's entry. Slow readers lose the
// older update, never the newest. Call cancel to stop.
func (l *Ledger) Watch(eventID string) (<-chan models.Capacity, func()) {
	ch := make(chan models.Capacity, 1)

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.watchers[id] = &watcher{eventID: eventID, ch: ch}
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.watchers, id)
			l.mu.Unlock()
		})
	}
}

func (l *Ledger) notify(c models.Capacity) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, w := range l.watchers {
		if w.eventID != c.EventID {
			continue
		}
		select {
		case w.ch <- c:
		default:
			// drop the pending value and replace it with the newer one
			select {
			case <-w.ch:
			default:
			}
			select {
			case w.ch <- c:
			default:
			}
		}
	}
}
