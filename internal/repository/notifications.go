package repository

import (
	"context"
	"errors"

	"festtix/internal/backend"
	apperrors "festtix/internal/errors"
	"festtix/internal/models"
)

type NotificationRepository struct {
	ds backend.DataService
}

func NewNotificationRepository(ds backend.DataService) *NotificationRepository {
	return &NotificationRepository{ds: ds}
}

// DecodeNotification turns a row or realtime change row into a notification
func DecodeNotification(row backend.Row) (*models.Notification, error) {
	r := readRow(backend.TableNotifications, row)
	n := &models.Notification{
		ID:        r.String("id", true),
		UserID:    r.String("user_id", true),
		Title:     r.String("title", false),
		Message:   r.String("message", true),
		Read:      r.Bool("read"),
		CreatedAt: r.Time("created_at", false),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return n, nil
}

func (r *NotificationRepository) Create(ctx context.Context, userID, title, message string) (*models.Notification, error) {
	row, err := r.ds.Insert(ctx, backend.TableNotifications, backend.Row{
		"user_id": userID,
		"title":   title,
		"message": message,
		"read":    false,
	})
	if err != nil {
		return nil, err
	}
	return DecodeNotification(row)
}

func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	rows, err := r.ds.Select(ctx, backend.TableNotifications, backend.Query{
		Filter: backend.Filter{"id": id},
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.ErrNotificationNotFound
	}
	return DecodeNotification(rows[0])
}

// ListByUser returns the user's latest notifications, newest first
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	rows, err := r.ds.Select(ctx, backend.TableNotifications, backend.Query{
		Filter: backend.Filter{"user_id": userID},
		Order:  &backend.Order{Column: "created_at", Descending: true},
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Notification, 0, len(rows))
	for _, row := range rows {
		n, err := DecodeNotification(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id string) (*models.Notification, error) {
	row, err := r.ds.Update(ctx, backend.TableNotifications, id, backend.Row{"read": true})
	if errors.Is(err, backend.ErrNotFound) {
		return nil, apperrors.ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeNotification(row)
}
