package consumers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"festtix/internal/backend/postgres"
	"festtix/internal/config"
	"festtix/internal/database"
	"festtix/internal/ledger"
	"festtix/internal/messaging"
	"festtix/internal/models"
	"festtix/internal/repository"
	"festtix/internal/service"

	"github.com/nats-io/stan.go"
)

const queueGroup = "festtix-consumers"

type ConsumerService struct {
	db       *database.DB
	backend  *postgres.Backend
	nats     *messaging.NATSClient
	handlers *Handlers
	subs     []stan.Subscription
}

func NewConsumerService(cfg *config.Config) (*ConsumerService, error) {
	if cfg.NATS.URL == "" {
		return nil, fmt.Errorf("consumers need NATS_URL")
	}

	pg, db, err := postgres.Open(cfg.Database, postgres.ListenerConfig{
		MinReconnect: cfg.Realtime.MinReconnect,
		MaxReconnect: cfg.Realtime.MaxReconnect,
	})
	if err != nil {
		return nil, err
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		db.Close()
		return nil, err
	}

	repos := repository.NewRepositories(pg)
	reconciler := service.NewReconcileService(repos.Events, ledger.New(repos.Events, time.Now))

	return &ConsumerService{
		db:       db,
		backend:  pg,
		nats:     natsClient,
		handlers: NewHandlers(reconciler),
	}, nil
}

func (cs *ConsumerService) Start() error {
	slog.Info("Starting NATS consumers...")

	routes := []struct {
		subject string
		handle  func(context.Context, []byte) error
	}{
		{models.EventCounterDrift, cs.handlers.HandleCounterDrift},
		{models.EventTicketBooked, cs.handlers.HandleTicketBooked},
		{models.EventTicketCancelled, cs.handlers.HandleTicketCancelled},
	}

	for _, r := range routes {
		sub, err := cs.nats.SubscribeQueue(r.subject, queueGroup, ack(r.subject, r.handle, cs.handlers.timeout))
		if err != nil {
			return err
		}
		cs.subs = append(cs.subs, sub)
	}

	slog.Info("All consumers started successfully", "subjects", len(routes))
	return nil
}

func (cs *ConsumerService) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down consumer service...")

	// Close, not Unsubscribe: durable queue subscriptions keep their position
	for _, sub := range cs.subs {
		if err := sub.Close(); err != nil {
			slog.Error("Error closing subscription", "error", err)
		}
	}

	if cs.nats != nil {
		if err := cs.nats.Close(); err != nil {
			slog.Error("Error closing NATS connection", "error", err)
		}
	}

	if cs.backend != nil {
		if err := cs.backend.Close(); err != nil {
			slog.Error("Error closing backend", "error", err)
		}
	}

	if cs.db != nil {
		if err := cs.db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			return err
		}
	}

	return ctx.Err()
}
