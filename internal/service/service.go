package service

import (
	"context"
	"time"

	"festtix/internal/backend"
	"festtix/internal/ledger"
	"festtix/internal/repository"
	"festtix/internal/ticketcache"
)

// Options wires optional collaborators and tuning into NewServices
type Options struct {
	Booking  BookingOptions
	Counters CounterQueueConfig
	Realtime RealtimeConfig

	// Catalog and Search may be nil
	Catalog CatalogCache
	Search  EventIndex

	Now func() time.Time
}

// Services is the application context handed to handlers
type Services struct {
	Events        *EventService
	Bookings      *BookingService
	Reconcile     *ReconcileService
	Notifications *NotificationService

	Ledger   *ledger.Ledger
	Tickets  *ticketcache.Cache
	Counters *CounterQueue
	Realtime *CapacityWatcher
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) error { return nil }

func NewServices(ds backend.DataService, repos *repository.Repositories, publisher Publisher, opts Options) *Services {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	capacity := ledger.New(repos.Events, now)
	tickets := ticketcache.New(repos.Tickets, now)
	counters := NewCounterQueue(repos.Events, opts.Counters)

	bookings := NewBookingService(repos, capacity, tickets, counters, NewCodeGenerator(now, nil), publisher, opts.Booking)
	bookings.now = now
	events := NewEventService(repos, capacity, tickets, publisher, opts.Catalog, opts.Search)
	events.now = now
	notifications := NewNotificationService(ds, repos, publisher)
	notifications.now = now

	return &Services{
		Events:        events,
		Bookings:      bookings,
		Reconcile:     NewReconcileService(repos.Events, capacity),
		Notifications: notifications,
		Ledger:        capacity,
		Tickets:       tickets,
		Counters:      counters,
		Realtime:      NewCapacityWatcher(ds, capacity, tickets, opts.Realtime),
	}
}

// Start launches the counter worker and the realtime subscriptions
func (s *Services) Start(ctx context.Context) {
	s.Counters.Start()
	s.Realtime.Start(ctx)
}

// Stop drains the counter queue and drops realtime subscriptions
func (s *Services) Stop() {
	s.Realtime.Stop()
	s.Counters.Stop()
}
