package ticketcache

import (
	"context"
	"errors"
	"testing"

	"festtix/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	lists map[string][]models.Ticket
	calls int
	err   error
}

func (f *fakeLoader) ListByUser(_ context.Context, userID string) ([]models.Ticket, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.lists[userID], nil
}

func ids(tickets []models.Ticket) []string {
	out := make([]string, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, t.ID)
	}
	return out
}

func TestGetLoadsOnceThenServesCache(t *testing.T) {
	loader := &fakeLoader{lists: map[string][]models.Ticket{
		"u1": {{ID: "t2", UserID: "u1"}, {ID: "t1", UserID: "u1"}},
	}}
	c := New(loader, nil)

	tickets, stale, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, []string{"t2", "t1"}, ids(tickets))

	_, _, err = c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)
}

func TestUpsertPrependsAndReplaces(t *testing.T) {
	loader := &fakeLoader{lists: map[string][]models.Ticket{"u1": {{ID: "t1", UserID: "u1"}}}}
	c := New(loader, nil)
	_, err := c.Load(context.Background(), "u1")
	require.NoError(t, err)

	c.UpsertFromBooking(models.Ticket{ID: "t2", UserID: "u1"})
	c.UpsertFromBooking(models.Ticket{ID: "t2", UserID: "u1", TicketCode: "SKR-X-AAAA"})

	tickets, _, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t1"}, ids(tickets))
	assert.Equal(t, "SKR-X-AAAA", tickets[0].TicketCode)
}

func TestUpsertSkipsUnloadedUser(t *testing.T) {
	loader := &fakeLoader{lists: map[string][]models.Ticket{"u1": {{ID: "t1", UserID: "u1"}, {ID: "t0", UserID: "u1"}}}}
	c := New(loader, nil)

	c.UpsertFromBooking(models.Ticket{ID: "t1", UserID: "u1"})

	tickets, _, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t0"}, ids(tickets), "first read must come from the backend")
}

func TestRemoveOnCancel(t *testing.T) {
	loader := &fakeLoader{lists: map[string][]models.Ticket{
		"u1": {{ID: "t3", UserID: "u1"}, {ID: "t2", UserID: "u1"}, {ID: "t1", UserID: "u1"}},
	}}
	c := New(loader, nil)
	_, err := c.Load(context.Background(), "u1")
	require.NoError(t, err)

	require.True(t, c.IsOwnBooking(models.Ticket{ID: "t2", UserID: "u1"}))

	c.RemoveOnCancel("t2")
	tickets, _, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t1"}, ids(tickets))

	assert.False(t, c.IsOwnBooking(models.Ticket{ID: "t2", UserID: "u1"}))
}

func TestExpectedBookingIsOwnUntilSettled(t *testing.T) {
	c := New(&fakeLoader{}, nil)
	ticket := models.Ticket{ID: "t1", UserID: "u1", TicketCode: "SKR-X-AAAA"}
	assert.False(t, c.IsOwnBooking(ticket))

	c.ExpectBooking(ticket.TicketCode)
	assert.True(t, c.IsOwnBooking(ticket))

	// u1 never loaded, so the upsert only settles the code
	c.UpsertFromBooking(ticket)
	assert.False(t, c.IsOwnBooking(ticket))

	c.ExpectBooking("SKR-X-BBBB")
	c.ForgetBooking("SKR-X-BBBB")
	assert.False(t, c.IsOwnBooking(models.Ticket{ID: "t2", UserID: "u1", TicketCode: "SKR-X-BBBB"}))
}

func TestReturnedSliceIsACopy(t *testing.T) {
	loader := &fakeLoader{lists: map[string][]models.Ticket{"u1": {{ID: "t1", UserID: "u1"}}}}
	c := New(loader, nil)

	tickets, _, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	tickets[0].ID = "mutated"

	again, _, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "t1", again[0].ID)
}

func TestStaleEntryReloads(t *testing.T) {
	loader := &fakeLoader{lists: map[string][]models.Ticket{"u1": {{ID: "t1", UserID: "u1", EventID: "e1"}}}}
	c := New(loader, nil)
	_, err := c.Load(context.Background(), "u1")
	require.NoError(t, err)

	loader.lists["u1"] = []models.Ticket{{ID: "t2", UserID: "u1"}, {ID: "t1", UserID: "u1", EventID: "e1"}}
	c.MarkEventStale("e1")

	tickets, stale, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, []string{"t2", "t1"}, ids(tickets))
	assert.Equal(t, 2, loader.calls)
}

func TestStaleEntryServedWhenReloadFails(t *testing.T) {
	loader := &fakeLoader{lists: map[string][]models.Ticket{"u1": {{ID: "t1", UserID: "u1"}}}}
	c := New(loader, nil)
	_, err := c.Load(context.Background(), "u1")
	require.NoError(t, err)

	loader.err = errors.New("backend down")
	c.MarkAllStale()

	tickets, stale, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, []string{"t1"}, ids(tickets))

	_, _, err = c.Get(context.Background(), "u2")
	assert.Error(t, err, "nothing cached to fall back on")
}
