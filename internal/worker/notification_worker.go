package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coursely/coursely-backend/internal/config"
	"github.com/coursely/coursely-backend/internal/model"
	"github.com/coursely/coursely-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NotificationWorker consumes dispatch_notifications_queue and writes
// delivered notification rows to PostgreSQL.
type NotificationWorker struct {
	notifRepo *repository.NotificationRepository
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewNotificationWorker creates a new NotificationWorker.
func NewNotificationWorker(notifRepo *repository.NotificationRepository, rdb *redis.Client, log zerolog.Logger) *NotificationWorker {
	return &NotificationWorker{
		notifRepo: notifRepo,
		rdb:       rdb,
		log:       log.With().Str("component", "notification_worker").Logger(),
	}
}

type notificationPayload struct {
	UserID  int                    `json:"user_id"`
	Message string                 `json:"message"`
	Kind    model.NotificationKind `json:"kind"`
	Link    string                 `json:"link"`
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *NotificationWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.DispatchNotificationsQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var payload notificationPayload
	if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
		w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
		return
	}

	if err := w.deliver(ctx, &payload); err != nil {
		w.log.Error().Err(err).
			Int("user_id", payload.UserID).
			Msg("Deliver error, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.WorkerKey.DispatchNotificationsQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, p *notificationPayload) error {
	return w.notifRepo.Create(ctx, &model.Notification{
		UserID:  p.UserID,
		Message: p.Message,
		Kind:    p.Kind,
		Link:    p.Link,
	})
}

// drain processes all remaining items in the queue before shutdown.
func (w *NotificationWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.DispatchNotificationsQueue).Result()
		if err != nil {
			break
		}

		var payload notificationPayload
		if err := json.Unmarshal([]byte(result), &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.deliver(ctx, &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain deliver error")
			w.rdb.RPush(ctx, config.WorkerKey.DispatchNotificationsQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
