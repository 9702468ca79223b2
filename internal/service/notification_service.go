package service

import (
	"context"
	"encoding/json"

	"github.com/coursely/coursely-backend/internal/config"
	"github.com/coursely/coursely-backend/internal/model"
	"github.com/coursely/coursely-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NotificationService dispatches notifications fire-and-forget through a redis
// queue (drained by the notification worker) and reads back delivered ones.
type NotificationService struct {
	notifRepo *repository.NotificationRepository
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(notifRepo *repository.NotificationRepository, rdb *redis.Client, log zerolog.Logger) *NotificationService {
	return &NotificationService{
		notifRepo: notifRepo,
		rdb:       rdb,
		log:       log.With().Str("component", "notification_service").Logger(),
	}
}

// Dispatch enqueues a notification for delivery. Failures are logged, never
// returned: a lost notification must not fail a grading or approval action.
func (s *NotificationService) Dispatch(ctx context.Context, userID int, message string, kind model.NotificationKind, link string) {
	payload, err := json.Marshal(map[string]interface{}{
		"user_id": userID,
		"message": message,
		"kind":    kind,
		"link":    link,
	})
	if err != nil {
		s.log.Error().Err(err).Int("user_id", userID).Msg("Marshal notification failed")
		return
	}

	if err := s.rdb.RPush(ctx, config.WorkerKey.DispatchNotificationsQueue, payload).Err(); err != nil {
		s.log.Error().Err(err).Int("user_id", userID).Msg("Enqueue notification failed")
	}
}

// ListForUser retrieves the most recent notifications for a user.
func (s *NotificationService) ListForUser(ctx context.Context, userID int) ([]model.Notification, error) {
	return s.notifRepo.ListByUser(ctx, userID, 50)
}

// MarkRead flags one of the user's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID int) error {
	return s.notifRepo.MarkRead(ctx, id, userID)
}
