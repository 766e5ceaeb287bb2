package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "festtix/internal/errors"
	"festtix/internal/models"
	"festtix/internal/service"

	"github.com/nats-io/stan.go"
)

// Reconciler recounts one event's tickets_booked from its ticket rows
type Reconciler interface {
	ReconcileEvent(ctx context.Context, eventID string) (service.ReconcileResult, error)
}

type Handlers struct {
	reconciler Reconciler
	timeout    time.Duration
}

func NewHandlers(reconciler Reconciler) *Handlers {
	return &Handlers{reconciler: reconciler, timeout: 10 * time.Second}
}

// ack wraps a payload handler: messages are acked on success and on
// undecodable payloads, and left for redelivery otherwise
func ack(subject string, handle func(ctx context.Context, data []byte) error, timeout time.Duration) stan.MsgHandler {
	return func(m *stan.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := handle(ctx, m.Data)
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case err == nil:
		case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
			slog.Error("Dropping undecodable message", "subject", subject, "sequence", m.Sequence, "error", err)
		default:
			slog.Error("Failed to process message, awaiting redelivery", "subject", subject, "sequence", m.Sequence, "error", err)
			return
		}
		if err := m.Ack(); err != nil {
			slog.Error("Failed to ack message", "subject", subject, "sequence", m.Sequence, "error", err)
		}
	}
}

// HandleCounterDrift repairs the counter an abandoned adjustment left behind
func (h *Handlers) HandleCounterDrift(ctx context.Context, data []byte) error {
	var event models.CounterDriftEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	if event.EventID == "" {
		slog.Warn("Counter drift message without event id")
		return nil
	}

	slog.Info("Processing counter drift", "event_id", event.EventID, "delta", event.Delta, "attempts", event.Attempts)

	result, err := h.reconciler.ReconcileEvent(ctx, event.EventID)
	if errors.Is(err, apperrors.ErrEventNotFound) {
		slog.Info("Drifted event no longer exists", "event_id", event.EventID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", event.EventID, err)
	}

	slog.Info("Counter reconciled", "event_id", result.EventID, "before", result.Before, "after", result.After)
	return nil
}

func (h *Handlers) HandleTicketBooked(_ context.Context, data []byte) error {
	var event models.TicketBookedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	slog.Info("Ticket booked", "ticket_id", event.TicketID, "ticket_code", event.TicketCode, "event_id", event.EventID, "user_id", event.UserID)
	return nil
}

func (h *Handlers) HandleTicketCancelled(_ context.Context, data []byte) error {
	var event models.TicketCancelledEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	slog.Info("Ticket cancelled", "ticket_id", event.TicketID, "event_id", event.EventID, "user_id", event.UserID)
	return nil
}
