package service

import (
	"context"
	"fmt"
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

// steppingStore gives every write a distinct timestamp so newest-first
// ordering is deterministic
func steppingStore() *memory.Store {
	var mu sync.Mutex
	clock := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	return memory.New(memory.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}))
}

func (e *testEnv) profiles(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := e.repos.Profiles.Ensure(context.Background(), id)
		require.NoError(t, err)
	}
}

func TestBroadcastReachesEveryProfile(t *testing.T) {
	env := newTestEnvWith(t, steppingStore(), nil, testOptions())
	ctx := context.Background()
	env.profiles(t, "u1", "u2", "u3")

	result, err := env.svc.Notifications.Broadcast(ctx, env.admin, &models.BroadcastRequest{
		Title:   "Gates open",
		Message: "Main ground from 5 PM",
	})
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastResult{Audience: models.AudienceAll, Sent: 3}, result)

	inbox, unread, err := env.svc.Notifications.Inbox(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, 1, unread)
	assert.Equal(t, "Gates open: Main ground from 5 PM", inbox[0].Message)
	assert.Contains(t, env.publisher.Subjects(), models.EventNotificationBroadcast)
}

func TestBroadcastToConfirmedAttendees(t *testing.T) {
	env := newTestEnvWith(t, steppingStore(), nil, testOptions())
	ctx := context.Background()
	env.profiles(t, "u1", "u2", "u3")
	event := env.seedEvent(t, "Quiz", 10, 0)
	_, err := env.svc.Bookings.BookTicket(ctx, event.ID, "u2")
	require.NoError(t, err)

	result, err := env.svc.Notifications.Broadcast(ctx, env.admin, &models.BroadcastRequest{
		Title: "Quiz", Message: "Bring a pen", Audience: models.AudienceConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)

	inbox, _, err := env.svc.Notifications.Inbox(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, inbox)
	inbox, _, err = env.svc.Notifications.Inbox(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, inbox, 1)
}

func TestBroadcastGuardsAndPartialFailure(t *testing.T) {
	env := newTestEnvWith(t, steppingStore(), nil, testOptions())
	ctx := context.Background()
	env.profiles(t, "u1", "u2")
	req := func() *models.BroadcastRequest {
		return &models.BroadcastRequest{Title: "Rain", Message: "Events move indoors"}
	}

	_, err := env.svc.Notifications.Broadcast(ctx, user("u1"), req())
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = env.svc.Notifications.Broadcast(ctx, env.admin, &models.BroadcastRequest{Title: "Rain", Message: " ", Audience: "pending"})
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "message")
	assert.Contains(t, verr.Fields, "audience")

	env.store.FailNext("insert:notifications", backend.ErrUnavailable)
	result, err := env.svc.Notifications.Broadcast(ctx, env.admin, req())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Failed)

	env.store.FailNext("insert:notifications", backend.ErrUnavailable)
	env.store.FailNext("insert:notifications", backend.ErrUnavailable)
	_, err = env.svc.Notifications.Broadcast(ctx, env.admin, req())
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
}

func TestInboxKeepsLatestTwentyAndMarkRead(t *testing.T) {
	env := newTestEnvWith(t, steppingStore(), nil, testOptions())
	ctx := context.Background()
	env.profiles(t, "u1", "u2")

	for i := 0; i < 22; i++ {
		_, err := env.repos.Notifications.Create(ctx, "u1", "Update", fmt.Sprintf("Update: %d", i))
		require.NoError(t, err)
	}
	inbox, unread, err := env.svc.Notifications.Inbox(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, inbox, 20)
	assert.Equal(t, 20, unread)
	assert.Equal(t, "Update: 21", inbox[0].Message)

	_, err = env.svc.Notifications.MarkRead(ctx, user("u2"), inbox[0].ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	n, err := env.svc.Notifications.MarkRead(ctx, user("u1"), inbox[0].ID)
	require.NoError(t, err)
	assert.True(t, n.Read)
	n, err = env.svc.Notifications.MarkRead(ctx, user("u1"), inbox[0].ID)
	require.NoError(t, err)
	assert.True(t, n.Read)

	_, unread, err = env.svc.Notifications.Inbox(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 19, unread)

	_, err = env.svc.Notifications.MarkRead(ctx, user("u1"), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotificationNotFound)

	_, _, err = env.svc.Notifications.Inbox(ctx, "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestWatchNotificationsOnlyForUser(t *testing.T) {
	env := newTestEnv(t, testOptions())
	ctx := context.Background()

	updates, stop, err := env.svc.Notifications.Watch(ctx, "u1")
	require.NoError(t, err)

	_, err = env.repos.Notifications.Create(ctx, "u2", "Other", "Other: not for u1")
	require.NoError(t, err)
	created, err := env.repos.Notifications.Create(ctx, "u1", "Yours", "Yours: hello")
	require.NoError(t, err)
	_, err = env.repos.Notifications.MarkRead(ctx, created.ID)
	require.NoError(t, err)

	select {
	case n := <-updates:
		assert.Equal(t, created.ID, n.ID)
		assert.False(t, n.Read)
	case <-time.After(time.Second):
		t.Fatal("no notification streamed")
	}
	select {
	case n := <-updates:
		t.Fatalf("unexpected notification %+v", n)
	default:
	}

	stop()
	stop()
	_, open := <-updates
	assert.False(t, open)

	// nothing is delivered after stop
	_, err = env.repos.Notifications.Create(ctx, "u1", "Late", "Late: after stop")
	require.NoError(t, err)
}
