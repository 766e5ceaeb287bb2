package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"festtix/internal/backend"
	"festtix/internal/backend/memory"
	apperrors "festtix/internal/errors"
	"festtix/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookTicketSecondAttemptIsAlreadyBooked(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Battle of Bands", 10, 0)
	ctx := context.Background()

	ticket, err := env.svc.Bookings.BookTicket(ctx, event.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TicketConfirmed, ticket.Status)
	assert.Regexp(t, codePattern, ticket.TicketCode)
	require.NotNil(t, ticket.Event)
	assert.Equal(t, "Battle of Bands", ticket.Event.Title)

	_, err = env.svc.Bookings.BookTicket(ctx, event.ID, "u1")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyBooked)
	assert.Equal(t, 1, env.store.Count(backend.TableTickets, backend.Filter{"event_id": event.ID, "user_id": "u1"}))

	env.svc.Counters.Flush()
	assert.Equal(t, 1, env.bookedCount(t, event.ID))
	assert.Contains(t, env.publisher.Subjects(), models.EventTicketBooked)
}

func TestBookTicketFullEventFailsWithoutInsert(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Fashion Show", 1, 1)

	_, err := env.svc.Bookings.BookTicket(context.Background(), event.ID, "u1")
	assert.ErrorIs(t, err, apperrors.ErrEventFull)
	assert.Equal(t, 0, env.store.Count(backend.TableTickets, nil))
}

func TestBookTicketUnknownEvent(t *testing.T) {
	env := newTestEnv(t, testOptions())
	_, err := env.svc.Bookings.BookTicket(context.Background(), "missing", "u1")
	assert.ErrorIs(t, err, apperrors.ErrEventNotFound)
}

func TestBookTicketRequiresUser(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Quiz", 10, 0)
	_, err := env.svc.Bookings.BookTicket(context.Background(), event.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestBookTicketConstraintViolationIsConflict(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Quiz", 10, 0)
	env.store.FailNext("insert:tickets", &backend.ConstraintError{
		Table: backend.TableTickets, Constraint: "tickets_ticket_code_key", Detail: "duplicate code",
	})

	_, err := env.svc.Bookings.BookTicket(context.Background(), event.ID, "u1")
	assert.ErrorIs(t, err, apperrors.ErrBookingConflict)
	assert.Equal(t, "BOOKING_CONFLICT", apperrors.Code(err))

	env.svc.Counters.Flush()
	assert.Equal(t, 0, env.bookedCount(t, event.ID), "no increment for a rejected insert")
}

func TestBookTicketTransportFailureIsNetworkError(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Quiz", 10, 0)
	env.store.FailNext("insert:tickets", backend.ErrUnavailable)

	_, err := env.svc.Bookings.BookTicket(context.Background(), event.ID, "u1")
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
}

func TestBookTicketPrecheckFallsBackToLedger(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Robo Wars", 5, 0)
	ctx := context.Background()

	_, err := env.svc.Bookings.Capacity(ctx, event.ID)
	require.NoError(t, err)

	env.store.FailNext("select:events", backend.ErrUnavailable)
	ticket, err := env.svc.Bookings.BookTicket(ctx, event.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, event.ID, ticket.EventID)
}

func TestCancelTicketRemovesFromCacheAndDecrements(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Dance Battle", 10, 0)
	ctx := context.Background()

	ticket, err := env.svc.Bookings.BookTicket(ctx, event.ID, "u1")
	require.NoError(t, err)
	env.svc.Counters.Flush()

	tickets, _, err := env.svc.Bookings.UserTickets(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, ticket.ID, tickets[0].ID)

	capacity, err := env.svc.Bookings.Capacity(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, capacity.Booked)

	require.NoError(t, env.svc.Bookings.CancelTicket(ctx, user("u1"), ticket.ID, event.ID))

	tickets, _, err = env.svc.Bookings.UserTickets(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tickets)

	capacity, err = env.svc.Bookings.Capacity(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, capacity.Booked)
	assert.Contains(t, env.publisher.Subjects(), models.EventTicketCancelled)

	err = env.svc.Bookings.CancelTicket(ctx, user("u1"), ticket.ID, event.ID)
	assert.ErrorIs(t, err, apperrors.ErrCancelFailed)
	assert.ErrorIs(t, err, apperrors.ErrTicketNotFound)
}

func TestCancelTicketNeverDropsCounterBelowZero(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Stand-up Night", 10, 0)
	ctx := context.Background()

	ticket, err := env.repos.Tickets.Create(ctx, event.ID, "u1", "SKR-MANUAL-0001")
	require.NoError(t, err)

	require.NoError(t, env.svc.Bookings.CancelTicket(ctx, user("u1"), ticket.ID, ""))
	assert.Equal(t, 0, env.bookedCount(t, event.ID))
}

func TestCancelTicketFallsBackWhenDecrementProcedureMissing(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Poetry Slam", 10, 3)
	ctx := context.Background()
	env.store.DisableProcedure(backend.ProcDecrementTickets)

	ticket, err := env.repos.Tickets.Create(ctx, event.ID, "u1", "SKR-MANUAL-0002")
	require.NoError(t, err)

	require.NoError(t, env.svc.Bookings.CancelTicket(ctx, user("u1"), ticket.ID, event.ID))
	assert.Equal(t, 2, env.bookedCount(t, event.ID))
}

func TestCancelTicketDecrementFailureAfterDelete(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Battle of Bands", 10, 0)
	ctx := context.Background()

	ticket, err := env.svc.Bookings.BookTicket(ctx, event.ID, "u1")
	require.NoError(t, err)
	env.svc.Counters.Flush()
	_, _, err = env.svc.Bookings.UserTickets(ctx, "u1")
	require.NoError(t, err)

	env.store.FailNext("call:decrement_tickets", errors.New("rpc timeout"))
	err = env.svc.Bookings.CancelTicket(ctx, user("u1"), ticket.ID, event.ID)
	assert.ErrorIs(t, err, apperrors.ErrCancelFailed)

	// the delete went through, so the cache follows it
	assert.Equal(t, 0, env.store.Count(backend.TableTickets, nil))
	tickets, _, err := env.svc.Bookings.UserTickets(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tickets)

	// the queue takes the -1 over
	env.svc.Counters.Flush()
	assert.Equal(t, 0, env.bookedCount(t, event.ID))
	c, ok := env.svc.Ledger.Get(event.ID)
	require.True(t, ok)
	assert.Equal(t, 0, c.Booked)
	assert.False(t, c.Stale)
	assert.NotContains(t, env.publisher.Subjects(), models.EventCounterDrift)
}

func TestCancelTicketDecrementGivenUpReportsDrift(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Battle of Bands", 10, 0)
	ctx := context.Background()

	ticket, err := env.svc.Bookings.BookTicket(ctx, event.ID, "u1")
	require.NoError(t, err)
	env.svc.Counters.Flush()

	// one inline attempt plus MaxRetries+1 queued attempts
	for i := 0; i < 4; i++ {
		env.store.FailNext("call:decrement_tickets", backend.ErrUnavailable)
	}
	err = env.svc.Bookings.CancelTicket(ctx, user("u1"), ticket.ID, event.ID)
	assert.ErrorIs(t, err, apperrors.ErrCancelFailed)
	env.svc.Counters.Flush()

	assert.Contains(t, env.publisher.Subjects(), models.EventCounterDrift)
	assert.Equal(t, 1, env.bookedCount(t, event.ID))

	// drift handling re-reads the row, so the ledger matches the backend
	c, ok := env.svc.Ledger.Get(event.ID)
	require.True(t, ok)
	assert.Equal(t, 1, c.Booked)
	assert.False(t, c.Stale)
}

// cancelAfterDelete cancels the caller's context right after the ticket row
// is deleted, as the request timeout does when the deadline passes there
type cancelAfterDelete struct {
	backend.DataService
	cancel context.CancelFunc
}

func (d *cancelAfterDelete) Delete(ctx context.Context, table, id string) error {
	err := d.DataService.Delete(ctx, table, id)
	if table == backend.TableTickets {
		d.cancel()
	}
	return err
}

func TestCancelTicketDecrementSurvivesCallerTimeout(t *testing.T) {
	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnvWith(t, memory.New(), func(ds backend.DataService) backend.DataService {
		return &cancelAfterDelete{DataService: ds, cancel: cancel}
	}, testOptions())
	event := env.seedEvent(t, "Robo Wars", 10, 0)

	ticket, err := env.svc.Bookings.BookTicket(context.Background(), event.ID, "u1")
	require.NoError(t, err)
	env.svc.Counters.Flush()
	require.Equal(t, 1, env.bookedCount(t, event.ID))

	require.NoError(t, env.svc.Bookings.CancelTicket(reqCtx, user("u1"), ticket.ID, event.ID))
	assert.Error(t, reqCtx.Err())
	assert.Equal(t, 0, env.store.Count(backend.TableTickets, nil))
	assert.Equal(t, 0, env.bookedCount(t, event.ID))
}

func TestCancelTicketDeleteFailureLeavesCacheAlone(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Quiz", 10, 0)
	ctx := context.Background()

	ticket, err := env.svc.Bookings.BookTicket(ctx, event.ID, "u1")
	require.NoError(t, err)
	_, _, err = env.svc.Bookings.UserTickets(ctx, "u1")
	require.NoError(t, err)

	env.store.FailNext("delete:tickets", backend.ErrUnavailable)
	err = env.svc.Bookings.CancelTicket(ctx, user("u1"), ticket.ID, event.ID)
	assert.ErrorIs(t, err, apperrors.ErrCancelFailed)
	assert.ErrorIs(t, err, apperrors.ErrNetwork)

	tickets, _, err := env.svc.Bookings.UserTickets(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
}

func TestCancelTicketOwnership(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Quiz", 10, 0)
	ctx := context.Background()

	ticket, err := env.svc.Bookings.BookTicket(ctx, event.ID, "u1")
	require.NoError(t, err)

	err = env.svc.Bookings.CancelTicket(ctx, user("u2"), ticket.ID, event.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	err = env.svc.Bookings.CancelTicket(ctx, user("u1"), ticket.ID, "other-event")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, env.svc.Bookings.CancelTicket(ctx, env.admin, ticket.ID, event.ID))
}

func TestCounterDriftIsReportedAndRepairable(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Robo Wars", 10, 0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		env.store.FailNext("call:increment_tickets", backend.ErrUnavailable)
	}

	_, err := env.svc.Bookings.BookTicket(ctx, event.ID, "u1")
	require.NoError(t, err, "the booking stands even though the counter lags")
	env.svc.Counters.Flush()

	assert.Contains(t, env.publisher.Subjects(), models.EventCounterDrift)
	assert.Equal(t, 0, env.bookedCount(t, event.ID))

	result, err := env.svc.Reconcile.ReconcileEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Before)
	assert.Equal(t, 1, result.After)

	c, ok := env.svc.Ledger.Get(event.ID)
	require.True(t, ok)
	assert.Equal(t, 1, c.Booked)
}

func TestCapacityServesStaleLedgerWhenBackendDown(t *testing.T) {
	env := newTestEnv(t, testOptions())
	event := env.seedEvent(t, "Quiz", 10, 4)
	ctx := context.Background()

	_, err := env.svc.Bookings.Capacity(ctx, event.ID)
	require.NoError(t, err)

	env.store.FailNext("select:events", backend.ErrUnavailable)
	c, err := env.svc.Bookings.Capacity(ctx, event.ID)
	require.NoError(t, err)
	assert.True(t, c.Stale)
	assert.Equal(t, 4, c.Booked)

	env.store.FailNext("select:events", backend.ErrUnavailable)
	_, err = env.svc.Bookings.Capacity(ctx, "never-seen")
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
}

// gatedStore holds ticket writes until two bookings have reached them, so
// both pass the capacity pre-check before either writes
type gatedStore struct {
	backend.DataService
	arrived chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore(ds backend.DataService) *gatedStore {
	return &gatedStore{DataService: ds, arrived: make(chan struct{}, 2), release: make(chan struct{})}
}

func (g *gatedStore) wait() {
	g.arrived <- struct{}{}
	if len(g.arrived) == 2 {
		g.once.Do(func() { close(g.release) })
	}
	select {
	case <-g.release:
	case <-time.After(2 * time.Second):
	}
}

func (g *gatedStore) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	if table == backend.TableTickets {
		g.wait()
	}
	return g.DataService.Insert(ctx, table, row)
}

func (g *gatedStore) CallProcedure(ctx context.Context, name string, args backend.Row) (any, error) {
	if name == backend.ProcBookTicket {
		g.wait()
	}
	return g.DataService.CallProcedure(ctx, name, args)
}

func raceForLastPlace(t *testing.T, env *testEnv, eventID string) (successes int, errs []error) {
	t.Helper()
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, u := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := env.svc.Bookings.BookTicket(context.Background(), eventID, userID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				errs = append(errs, err)
			}
		}(u)
	}
	wg.Wait()
	env.svc.Counters.Flush()
	return successes, errs
}

func TestConcurrentBookingOversellsWithoutServerGuard(t *testing.T) {
	env := newTestEnvWith(t, memory.New(), func(ds backend.DataService) backend.DataService {
		return newGatedStore(ds)
	}, testOptions())
	event := env.seedEvent(t, "Last Seat Show", 1, 0)

	successes, errs := raceForLastPlace(t, env, event.ID)

	// known limitation: the pre-check is not atomic with the insert
	assert.Equal(t, 2, successes, "errors: %v", errs)
	assert.Equal(t, 2, env.store.Count(backend.TableTickets, nil))
	assert.Equal(t, 2, env.bookedCount(t, event.ID), "tickets_booked exceeds capacity")
}

func TestConcurrentBookingWithServerGuardSellsOnePlace(t *testing.T) {
	opts := testOptions()
	opts.Booking.ServerGuard = true
	env := newTestEnvWith(t, memory.New(), func(ds backend.DataService) backend.DataService {
		return newGatedStore(ds)
	}, opts)
	event := env.seedEvent(t, "Last Seat Show", 1, 0)

	successes, errs := raceForLastPlace(t, env, event.ID)

	assert.Equal(t, 1, successes)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], apperrors.ErrEventFull)
	assert.Equal(t, 1, env.store.Count(backend.TableTickets, nil))
	assert.Equal(t, 1, env.bookedCount(t, event.ID))
}
