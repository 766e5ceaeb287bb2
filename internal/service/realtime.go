package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"festtix/internal/backend"
	apperrors "festtix/internal/errors"
	"festtix/internal/ledger"
	"festtix/internal/metrics"
	"festtix/internal/repository"
	"festtix/internal/ticketcache"
)

// RealtimeConfig bounds the resubscribe backoff
type RealtimeConfig struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// CapacityWatcher feeds backend change events into the ledger and the ticket
// cache. Subscribing is retried with exponential backoff; a Resync change
// (sent after the channel reconnects) triggers a full refresh, since changes
// made while disconnected are lost.
type CapacityWatcher struct {
	ds      backend.DataService
	ledger  *ledger.Ledger
	tickets *ticketcache.Cache
	cfg     RealtimeConfig

	ready  chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs []backend.Subscription
}

func NewCapacityWatcher(ds backend.DataService, ledger *ledger.Ledger, tickets *ticketcache.Cache, cfg RealtimeConfig) *CapacityWatcher {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &CapacityWatcher{
		ds:      ds,
		ledger:  ledger,
		tickets: tickets,
		cfg:     cfg,
		ready:   make(chan struct{}),
	}
}

// Start subscribes in the background and returns immediately
func (w *CapacityWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.subscribeWithBackoff(ctx)
	}()
}

// Ready is closed once both subscriptions are established
func (w *CapacityWatcher) Ready() <-chan struct{} {
	return w.ready
}

// Stop cancels pending retries and drops the subscriptions
func (w *CapacityWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.unsubscribeAll()
}

func (w *CapacityWatcher) subscribeWithBackoff(ctx context.Context) {
	delay := w.cfg.MinBackoff
	for attempt := 1; ; attempt++ {
		err := w.subscribeAll(ctx)
		if err == nil {
			slog.Info("Realtime subscriptions established", "attempts", attempt)
			close(w.ready)
			return
		}
		slog.Warn("Realtime subscribe failed, retrying", "attempt", attempt, "retry_in", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = min(delay*2, w.cfg.MaxBackoff)
	}
}

func (w *CapacityWatcher) subscribeAll(ctx context.Context) error {
	events, err := w.ds.Subscribe(ctx, backend.TableEvents, nil, w.handleEventChange)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	tickets, err := w.ds.Subscribe(ctx, backend.TableTickets, nil, w.handleTicketChange)
	if err != nil {
		_ = events.Unsubscribe()
		return fmt.Errorf("subscribe tickets: %w", err)
	}

	w.mu.Lock()
	w.subs = append(w.subs, events, tickets)
	w.mu.Unlock()
	return nil
}

func (w *CapacityWatcher) unsubscribeAll() {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("Realtime unsubscribe failed", "error", err)
		}
	}
}

func (w *CapacityWatcher) handleEventChange(change backend.Change) {
	switch change.Type {
	case backend.ChangeResync:
		w.resync()
	case backend.ChangeDelete:
		id, _ := change.Old["id"].(string)
		if id != "" {
			w.ledger.Forget(id)
			w.tickets.MarkEventStale(id)
		}
	case backend.ChangeInsert, backend.ChangeUpdate:
		event, err := repository.DecodeEvent(change.New)
		if err != nil {
			slog.Warn("Ignoring malformed event change", "error", err)
			return
		}
		current, known := w.ledger.Get(event.ID)
		if change.Type == backend.ChangeUpdate && known && current.Capacity == event.Capacity {
			w.ledger.ApplyRemotePatch(event.ID, event.TicketsBooked, change.CommitTime)
			return
		}
		w.ledger.Observe(event)
	}
}

func (w *CapacityWatcher) handleTicketChange(change backend.Change) {
	switch change.Type {
	case backend.ChangeResync:
		w.tickets.MarkAllStale()
	case backend.ChangeDelete:
		if id, _ := change.Old["id"].(string); id != "" {
			w.tickets.RemoveOnCancel(id)
		}
	case backend.ChangeInsert, backend.ChangeUpdate:
		ticket, err := repository.DecodeTicket(change.New)
		if err != nil {
			slog.Warn("Ignoring malformed ticket change", "error", err)
			return
		}
		// tickets booked through this process are patched in by BookTicket
		if change.Type == backend.ChangeInsert && w.tickets.IsOwnBooking(*ticket) {
			return
		}
		w.tickets.MarkStale(ticket.UserID)
	}
}

// resync refreshes every event the ledger knows about
func (w *CapacityWatcher) resync() {
	metrics.RealtimeResyncsTotal.Inc()
	ids := w.ledger.Known()
	slog.Info("Realtime resync", "events", len(ids))

	for _, id := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := w.ledger.Refresh(ctx, id)
		cancel()
		switch {
		case errors.Is(err, apperrors.ErrEventNotFound):
			w.ledger.Forget(id)
		case err != nil:
			w.ledger.MarkStale(id)
			slog.Warn("Resync refresh failed", "event_id", id, "error", err)
		}
	}
}
