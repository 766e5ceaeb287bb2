package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "festtix/internal/errors"
	"festtix/internal/ledger"
	"festtix/internal/repository"
)

// ReconcileResult is the outcome for one event
type ReconcileResult struct {
	EventID string `json:"event_id"`
	Before  int    `json:"before"`
	After   int    `json:"after"`
	Error   string `json:"error,omitempty"`
}

// ReconcileService recounts tickets_booked from the tickets table, repairing
// drift left by abandoned counter adjustments or the non-atomic cancel path
type ReconcileService struct {
	events *repository.EventRepository
	ledger *ledger.Ledger
}

func NewReconcileService(events *repository.EventRepository, ledger *ledger.Ledger) *ReconcileService {
	return &ReconcileService{events: events, ledger: ledger}
}

// ReconcileEvent recounts one event
func (s *ReconcileService) ReconcileEvent(ctx context.Context, eventID string) (ReconcileResult, error) {
	result := ReconcileResult{EventID: eventID}

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return result, backendError("load event", err)
	}
	result.Before = event.TicketsBooked

	booked, err := s.events.Reconcile(ctx, eventID)
	if err != nil {
		s.ledger.MarkStale(eventID)
		return result, backendError("reconcile counter", err)
	}
	result.After = booked

	if !s.ledger.ApplyRemotePatch(eventID, booked, time.Time{}) {
		event.TicketsBooked = booked
		s.ledger.Observe(event)
	}
	if result.Before != result.After {
		slog.Warn("Counter drift repaired", "event_id", eventID, "before", result.Before, "after", result.After)
	}
	return result, nil
}

// ReconcileAll recounts every event, continuing past failures
func (s *ReconcileService) ReconcileAll(ctx context.Context) ([]ReconcileResult, error) {
	slog.Info("Starting counter reconcile")

	events, err := s.events.List(ctx, "")
	if err != nil {
		return nil, backendError("list events", err)
	}

	results := make([]ReconcileResult, 0, len(events))
	for _, event := range events {
		result, err := s.ReconcileEvent(ctx, event.ID)
		if err != nil {
			if errors.Is(err, apperrors.ErrEventNotFound) {
				continue
			}
			result.Error = err.Error()
			slog.Error("Failed to reconcile event", "event_id", event.ID, "error", err)
		}
		results = append(results, result)
	}

	slog.Info("Counter reconcile completed", "events", len(results))
	return results, nil
}
