package repository

import (
	"context"

	"festtix/internal/backend"
	"festtix/internal/models"
)

// Activity actions
const (
	ActionTicketBooked    = "ticket_booked"
	ActionTicketCancelled = "ticket_cancelled"
	ActionEventCreated    = "event_created"
	ActionEventUpdated    = "event_updated"
	ActionEventDeleted    = "event_deleted"

	ActionNotificationBroadcast = "notification_broadcast"
)

type ActivityRepository struct {
	ds backend.DataService
}

func NewActivityRepository(ds backend.DataService) *ActivityRepository {
	return &ActivityRepository{ds: ds}
}

func (r *ActivityRepository) Log(ctx context.Context, userID, action string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := r.ds.Insert(ctx, backend.TableActivities, backend.Row{
		"user_id":  userID,
		"action":   action,
		"metadata": metadata,
	})
	return err
}

// ListByUser returns the user's activity newest first
func (r *ActivityRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Activity, error) {
	rows, err := r.ds.Select(ctx, backend.TableActivities, backend.Query{
		Filter: backend.Filter{"user_id": userID},
		Order:  &backend.Order{Column: "created_at", Descending: true},
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Activity, 0, len(rows))
	for _, row := range rows {
		rr := readRow(backend.TableActivities, row)
		activity := models.Activity{
			ID:        rr.String("id", true),
			UserID:    rr.String("user_id", true),
			Action:    rr.String("action", true),
			Metadata:  rr.JSON("metadata"),
			CreatedAt: rr.Time("created_at", false),
		}
		if err := rr.Err(); err != nil {
			return nil, err
		}
		out = append(out, activity)
	}
	return out, nil
}
