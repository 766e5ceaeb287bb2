// Package validation runs a smoke test of the booking workflow against a
// running API: create an event, book it full, check the guards, cancel, and
// clean up.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"festtix/internal/middleware"
	"festtix/internal/models"

	"github.com/google/uuid"
)

// SmokeValidator drives the public HTTP API. adminID must name a profile
// with the admin role.
type SmokeValidator struct {
	baseURL string
	adminID string
	client  *http.Client
	// settle bounds how long to wait for the fire-and-forget counter update
	settle time.Duration
}

func NewSmokeValidator(baseURL, adminID string) *SmokeValidator {
	return &SmokeValidator{
		baseURL: baseURL,
		adminID: adminID,
		client:  &http.Client{Timeout: 10 * time.Second},
		settle:  5 * time.Second,
	}
}

// ValidateAll runs every check; the first failure stops the run
func (v *SmokeValidator) ValidateAll(ctx context.Context) error {
	slog.Info("Starting smoke validation", "url", v.baseURL)

	if err := v.expect(ctx, http.MethodGet, "/health", "", nil, http.StatusOK, nil); err != nil {
		return fmt.Errorf("health: %w", err)
	}

	var event models.Event
	err := v.expect(ctx, http.MethodPost, "/api/admin/events", v.adminID, models.CreateEventRequest{
		Title:    "Smoke Test " + uuid.NewString()[:8],
		Category: "Test",
		StartsAt: time.Now().Add(24 * time.Hour).UTC(),
		Venue:    "Nowhere",
		Capacity: 1,
	}, http.StatusCreated, &event)
	if err != nil {
		return fmt.Errorf("create event (is %q an admin?): %w", v.adminID, err)
	}
	defer v.cleanup(event.ID)

	if err := v.validateBooking(ctx, event.ID); err != nil {
		return fmt.Errorf("booking: %w", err)
	}

	slog.Info("Smoke validation passed")
	return nil
}

func (v *SmokeValidator) validateBooking(ctx context.Context, eventID string) error {
	first, second := "smoke-"+uuid.NewString(), "smoke-"+uuid.NewString()
	body := models.BookTicketRequest{EventID: eventID}

	var ticket models.Ticket
	if err := v.expect(ctx, http.MethodPost, "/api/tickets", first, body, http.StatusCreated, &ticket); err != nil {
		return fmt.Errorf("book: %w", err)
	}
	slog.Info("Booked", "ticket_code", ticket.TicketCode)

	var dup models.ErrorResponse
	if err := v.expect(ctx, http.MethodPost, "/api/tickets", first, body, http.StatusConflict, &dup); err != nil {
		return fmt.Errorf("duplicate booking: %w", err)
	}
	if dup.Code != "ALREADY_BOOKED" && dup.Code != "EVENT_FULL" {
		return fmt.Errorf("duplicate booking: unexpected code %q", dup.Code)
	}

	if err := v.waitForBooked(ctx, eventID, 1); err != nil {
		return err
	}

	var full models.ErrorResponse
	if err := v.expect(ctx, http.MethodPost, "/api/tickets", second, body, http.StatusConflict, &full); err != nil {
		return fmt.Errorf("booking a full event: %w", err)
	}
	if full.Code != "EVENT_FULL" {
		return fmt.Errorf("booking a full event: unexpected code %q", full.Code)
	}

	var mine models.TicketsResponse
	if err := v.expect(ctx, http.MethodGet, "/api/tickets", first, nil, http.StatusOK, &mine); err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}
	if len(mine.Tickets) != 1 || mine.Tickets[0].ID != ticket.ID {
		return fmt.Errorf("list tickets: expected exactly ticket %s, got %d tickets", ticket.ID, len(mine.Tickets))
	}

	path := fmt.Sprintf("/api/tickets/%s?event_id=%s", ticket.ID, eventID)
	if err := v.expect(ctx, http.MethodDelete, path, second, nil, http.StatusForbidden, nil); err != nil {
		return fmt.Errorf("cancel someone else's ticket: %w", err)
	}
	if err := v.expect(ctx, http.MethodDelete, path, first, nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}

	return v.waitForBooked(ctx, eventID, 0)
}

func (v *SmokeValidator) waitForBooked(ctx context.Context, eventID string, want int) error {
	deadline := time.Now().Add(v.settle)
	for {
		var capacity models.Capacity
		if err := v.expect(ctx, http.MethodGet, "/api/events/"+eventID+"/capacity", "", nil, http.StatusOK, &capacity); err != nil {
			return fmt.Errorf("capacity: %w", err)
		}
		if capacity.Booked == want {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("capacity: booked is %d, expected %d", capacity.Booked, want)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (v *SmokeValidator) cleanup(eventID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := v.expect(ctx, http.MethodDelete, "/api/admin/events/"+eventID, v.adminID, nil, http.StatusNoContent, nil); err != nil {
		slog.Warn("Failed to delete smoke test event", "event_id", eventID, "error", err)
	}
}

// expect performs one request, checks the status and decodes the body into out
func (v *SmokeValidator) expect(ctx context.Context, method, path, userID string, body any, status int, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, v.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != status {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: expected %d, got %d: %s", method, path, status, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
		}
	}
	return nil
}

// RunValidation is the `api validate` entry point
func RunValidation(baseURL, adminID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return NewSmokeValidator(baseURL, adminID).ValidateAll(ctx)
}
