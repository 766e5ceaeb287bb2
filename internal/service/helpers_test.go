package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"festtix/internal/backend"
	"festtix/internal/backend/memory"
	"festtix/internal/models"
	"festtix/internal/repository"

	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (p *recordingPublisher) Publish(subject string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *recordingPublisher) Subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}

type testEnv struct {
	store     *memory.Store
	repos     *repository.Repositories
	svc       *Services
	publisher *recordingPublisher
	admin     *models.Profile
}

func testOptions() Options {
	return Options{
		Counters: CounterQueueConfig{Size: 16, MaxRetries: 2, RetryBase: time.Millisecond},
		Realtime: RealtimeConfig{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	}
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	return newTestEnvWith(t, memory.New(), nil, opts)
}

// newTestEnvWith lets a test put a wrapper between the services and the store
func newTestEnvWith(t *testing.T, store *memory.Store, wrap func(backend.DataService) backend.DataService, opts Options) *testEnv {
	t.Helper()
	var ds backend.DataService = store
	if wrap != nil {
		ds = wrap(store)
	}
	repos := repository.NewRepositories(ds)
	publisher := &recordingPublisher{}
	svc := NewServices(ds, repos, publisher, opts)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		svc.Stop()
		cancel()
	})

	select {
	case <-svc.Realtime.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("realtime subscriptions not ready")
	}

	return &testEnv{
		store:     store,
		repos:     repos,
		svc:       svc,
		publisher: publisher,
		admin:     &models.Profile{ID: "admin-1", Role: models.RoleAdmin},
	}
}

func (e *testEnv) seedEvent(t *testing.T, title string, capacity, booked int) *models.Event {
	t.Helper()
	row, err := e.store.Insert(context.Background(), backend.TableEvents, backend.Row{
		"title":          title,
		"category":       "Music",
		"event_date":     time.Date(2026, 8, 15, 18, 0, 0, 0, time.UTC),
		"capacity":       capacity,
		"tickets_booked": booked,
	})
	require.NoError(t, err)
	event, err := repository.DecodeEvent(row)
	require.NoError(t, err)
	return event
}

func (e *testEnv) bookedCount(t *testing.T, eventID string) int {
	t.Helper()
	event, err := e.repos.Events.GetByID(context.Background(), eventID)
	require.NoError(t, err)
	return event.TicketsBooked
}

func user(id string) *models.Profile {
	return &models.Profile{ID: id, Role: models.RoleUser}
}
