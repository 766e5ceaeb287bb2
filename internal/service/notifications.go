package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"festtix/internal/backend"
	apperrors "festtix/internal/errors"
	"festtix/internal/logger"
	"festtix/internal/metrics"
	"festtix/internal/models"
	"festtix/internal/repository"
)

const (
	inboxLimit         = 20
	notificationBuffer = 16
)

// NotificationService is the per-user inbox and the admin broadcast
type NotificationService struct {
	ds            backend.DataService
	notifications *repository.NotificationRepository
	profiles      *repository.ProfileRepository
	tickets       *repository.TicketRepository
	activities    *repository.ActivityRepository
	publisher     Publisher
	now           func() time.Time
}

func NewNotificationService(ds backend.DataService, repos *repository.Repositories, publisher Publisher) *NotificationService {
	return &NotificationService{
		ds:            ds,
		notifications: repos.Notifications,
		profiles:      repos.Profiles,
		tickets:       repos.Tickets,
		activities:    repos.Activities,
		publisher:     publisher,
		now:           time.Now,
	}
}

// Inbox returns the user's latest notifications and how many of those are
// unread. Older notifications are not counted.
func (s *NotificationService) Inbox(ctx context.Context, userID string) ([]models.Notification, int, error) {
	if userID == "" {
		return nil, 0, apperrors.ErrUnauthorized
	}
	list, err := s.notifications.ListByUser(ctx, userID, inboxLimit)
	if err != nil {
		return nil, 0, backendError("load notifications", err)
	}
	unread := 0
	for _, n := range list {
		if !n.Read {
			unread++
		}
	}
	return list, unread, nil
}

// MarkRead flags one of the actor's notifications as read; marking twice is
// a no-op
func (s *NotificationService) MarkRead(ctx context.Context, actor *models.Profile, id string) (*models.Notification, error) {
	if actor == nil || actor.ID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, backendError("load notification", err)
	}
	if n.UserID != actor.ID {
		return nil, apperrors.ErrForbidden
	}
	if n.Read {
		return n, nil
	}
	n, err = s.notifications.MarkRead(ctx, id)
	if err != nil {
		return nil, backendError("mark notification read", err)
	}
	return n, nil
}

// Watch streams notifications inserted for the user from now on. Slow
// readers lose messages rather than block the change feed; the inbox still
// has them.
func (s *NotificationService) Watch(ctx context.Context, userID string) (<-chan models.Notification, func(), error) {
	if userID == "" {
		return nil, nil, apperrors.ErrUnauthorized
	}

	ch := make(chan models.Notification, notificationBuffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	sub, err := s.ds.Subscribe(ctx, backend.TableNotifications, backend.Filter{"user_id": userID}, func(change backend.Change) {
		if change.Type != backend.ChangeInsert {
			return
		}
		n, err := repository.DecodeNotification(change.New)
		if err != nil {
			slog.Warn("Ignoring malformed notification change", "error", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- *n:
		default:
			slog.Warn("Notification stream full, dropping", "user_id", userID, "notification_id", n.ID)
		}
	})
	if err != nil {
		return nil, nil, backendError("subscribe notifications", err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				slog.Warn("Failed to unsubscribe notifications", "user_id", userID, "error", err)
			}
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, stop, nil
}

// Broadcast writes one notification per recipient. The message is prefixed
// with the title. Individual failures are counted; the call fails only when
// nothing could be sent.
func (s *NotificationService) Broadcast(ctx context.Context, actor *models.Profile, req *models.BroadcastRequest) (models.BroadcastResult, error) {
	if err := requireAdmin(actor); err != nil {
		return models.BroadcastResult{}, err
	}
	if problems := req.Validate(); len(problems) > 0 {
		return models.BroadcastResult{}, &apperrors.ValidationError{Fields: problems}
	}
	log := logger.WithContext(ctx).With("audience", req.Audience, "sent_by", actor.ID)

	recipients, err := s.recipients(ctx, req.Audience)
	if err != nil {
		return models.BroadcastResult{}, backendError("load recipients", err)
	}

	result := models.BroadcastResult{Audience: req.Audience}
	message := req.Title + ": " + req.Message
	var lastErr error
	for _, userID := range recipients {
		if _, err := s.notifications.Create(ctx, userID, req.Title, message); err != nil {
			if isContextError(err) {
				return result, backendError("broadcast notification", err)
			}
			result.Failed++
			lastErr = err
			log.Warn("Failed to deliver notification", "user_id", userID, "error", err)
			continue
		}
		result.Sent++
	}
	metrics.NotificationsSentTotal.WithLabelValues("ok").Add(float64(result.Sent))
	metrics.NotificationsSentTotal.WithLabelValues("error").Add(float64(result.Failed))

	if result.Sent == 0 && lastErr != nil {
		return result, backendError("broadcast notification", lastErr)
	}

	log.Info("Notification broadcast", "sent", result.Sent, "failed", result.Failed)

	if err := s.activities.Log(ctx, actor.ID, repository.ActionNotificationBroadcast, map[string]any{
		"audience": req.Audience,
		"title":    req.Title,
		"sent":     result.Sent,
	}); err != nil {
		log.Warn("Failed to write activity log", "error", err)
	}
	if err := s.publisher.Publish(models.EventNotificationBroadcast, models.NotificationBroadcastEvent{
		Audience:  req.Audience,
		Title:     req.Title,
		Sent:      result.Sent,
		SentBy:    actor.ID,
		Timestamp: s.now(),
	}); err != nil {
		log.Error("Failed to publish notification broadcast", "error", err)
	}
	return result, nil
}

func (s *NotificationService) recipients(ctx context.Context, audience string) ([]string, error) {
	if audience == models.AudienceConfirmed {
		return s.tickets.HolderIDs(ctx)
	}
	return s.profiles.ListIDs(ctx)
}
