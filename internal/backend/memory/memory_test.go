package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"festtix/internal/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEvent(t *testing.T, s *Store, id string, capacity, booked int) {
	t.Helper()
	_, err := s.Insert(context.Background(), backend.TableEvents, backend.Row{
		"id": id, "title": "Battle of Bands", "category": "Music",
		"event_date": time.Date(2026, 8, 15, 18, 0, 0, 0, time.UTC),
		"capacity":   capacity, "tickets_booked": booked,
	})
	require.NoError(t, err)
}

func TestInsertFillsDefaultsAndNormalizesInts(t *testing.T) {
	s := New()
	seedEvent(t, s, "e1", 10, 0)

	row, err := s.Insert(context.Background(), backend.TableTickets, backend.Row{
		"event_id": "e1", "user_id": "u1", "ticket_code": "SKR-A-B", "status": "confirmed",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, row["id"])
	assert.IsType(t, time.Time{}, row["created_at"])

	events, err := s.Select(context.Background(), backend.TableEvents, backend.Query{Filter: backend.Filter{"id": "e1"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(10), events[0]["capacity"])
}

func TestTicketConstraints(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedEvent(t, s, "e1", 10, 0)

	_, err := s.Insert(ctx, backend.TableTickets, backend.Row{"event_id": "e1", "user_id": "u1", "ticket_code": "C1"})
	require.NoError(t, err)

	_, err = s.Insert(ctx, backend.TableTickets, backend.Row{"event_id": "e1", "user_id": "u1", "ticket_code": "C2"})
	var ce *backend.ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "tickets_event_id_user_id_key", ce.Constraint)

	_, err = s.Insert(ctx, backend.TableTickets, backend.Row{"event_id": "e1", "user_id": "u2", "ticket_code": "C1"})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "tickets_ticket_code_key", ce.Constraint)

	_, err = s.Insert(ctx, backend.TableTickets, backend.Row{"event_id": "nope", "user_id": "u2", "ticket_code": "C3"})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "tickets_event_id_fkey", ce.Constraint)
}

func TestSelectOrderAndLimit(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	s := New()
	ctx := context.Background()
	seedEvent(t, s, "e1", 10, 0)
	for i, code := range []string{"A", "B", "C"} {
		_, err := s.Insert(ctx, backend.TableTickets, backend.Row{
			"event_id": "e1", "user_id": code, "ticket_code": code,
			"created_at": now.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	rows, err := s.Select(ctx, backend.TableTickets, backend.Query{
		Order: &backend.Order{Column: "created_at", Descending: true},
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "C", rows[0]["ticket_code"])
	assert.Equal(t, "B", rows[1]["ticket_code"])
}

func TestCounterProcedures(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedEvent(t, s, "e1", 10, 0)

	got, err := s.CallProcedure(ctx, backend.ProcIncrementTickets, backend.Row{"event_id": "e1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	got, err = s.CallProcedure(ctx, backend.ProcDecrementTickets, backend.Row{"event_id": "e1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)

	got, err = s.CallProcedure(ctx, backend.ProcDecrementTickets, backend.Row{"event_id": "e1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got, "decrement clamps at zero")

	_, err = s.CallProcedure(ctx, backend.ProcIncrementTickets, backend.Row{"event_id": "missing"})
	assert.ErrorIs(t, err, backend.ErrNotFound)

	s.DisableProcedure(backend.ProcDecrementTickets)
	_, err = s.CallProcedure(ctx, backend.ProcDecrementTickets, backend.Row{"event_id": "e1"})
	assert.ErrorIs(t, err, backend.ErrProcedureUnavailable)
}

func TestReconcileRecountsTickets(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedEvent(t, s, "e1", 10, 7)
	_, err := s.Insert(ctx, backend.TableTickets, backend.Row{"event_id": "e1", "user_id": "u1", "ticket_code": "C1"})
	require.NoError(t, err)

	got, err := s.CallProcedure(ctx, backend.ProcReconcileTickets, backend.Row{"event_id": "e1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestBookTicketProcedureGuardsCapacity(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedEvent(t, s, "e1", 1, 0)

	row, err := s.CallProcedure(ctx, backend.ProcBookTicket, backend.Row{"event_id": "e1", "user_id": "u1", "ticket_code": "C1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", row.(backend.Row)["user_id"])

	_, err = s.CallProcedure(ctx, backend.ProcBookTicket, backend.Row{"event_id": "e1", "user_id": "u2", "ticket_code": "C2"})
	var ce *backend.ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "events_capacity_guard", ce.Constraint)
	assert.Equal(t, 1, s.Count(backend.TableTickets, nil))
}

func TestDeleteCascadesAndNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedEvent(t, s, "e1", 10, 0)
	_, err := s.Insert(ctx, backend.TableTickets, backend.Row{"event_id": "e1", "user_id": "u1", "ticket_code": "C1"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, backend.TableEvents, "e1"))
	assert.Equal(t, 0, s.Count(backend.TableTickets, nil))
	assert.ErrorIs(t, s.Delete(ctx, backend.TableEvents, "e1"), backend.ErrNotFound)
}

func TestSubscribeFiltersAndUnsubscribes(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedEvent(t, s, "e1", 10, 0)
	seedEvent(t, s, "e2", 10, 0)

	var got []backend.Change
	sub, err := s.Subscribe(ctx, backend.TableEvents, backend.Filter{"id": "e1"}, func(c backend.Change) {
		got = append(got, c)
	})
	require.NoError(t, err)

	_, err = s.CallProcedure(ctx, backend.ProcIncrementTickets, backend.Row{"event_id": "e1"})
	require.NoError(t, err)
	_, err = s.CallProcedure(ctx, backend.ProcIncrementTickets, backend.Row{"event_id": "e2"})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, backend.ChangeUpdate, got[0].Type)
	assert.Equal(t, int64(1), got[0].New["tickets_booked"])
	assert.Equal(t, int64(0), got[0].Old["tickets_booked"])

	s.Emit(backend.Change{Table: backend.TableEvents, Type: backend.ChangeResync})
	assert.Len(t, got, 2)

	require.NoError(t, sub.Unsubscribe())
	_, err = s.CallProcedure(ctx, backend.ProcIncrementTickets, backend.Row{"event_id": "e1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFailNextQueuesErrors(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.FailNext("select:events", boom)

	_, err := s.Select(context.Background(), backend.TableEvents, backend.Query{})
	assert.ErrorIs(t, err, boom)

	_, err = s.Select(context.Background(), backend.TableEvents, backend.Query{})
	assert.NoError(t, err)
}
