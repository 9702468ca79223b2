package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coursely/coursely-backend/internal/config"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// TelemetryWorker batches proctoring events (fullscreen exits and other client
// reports) from redis into the proctor_events table. Events arrive in bursts
// when a cohort hits a deadline, so inserts go through CopyFrom.
type TelemetryWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewTelemetryWorker creates a new TelemetryWorker.
func NewTelemetryWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *TelemetryWorker {
	return &TelemetryWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "telemetry_worker").Logger(),
	}
}

type telemetryPayload struct {
	StudentID    int    `json:"student_id"`
	AssignmentID string `json:"assignment_id"`
	Payload      string `json:"payload"`
	OccurredAt   string `json:"occurred_at"`
}

func (p *telemetryPayload) occurredAt() time.Time {
	t, err := time.Parse(time.RFC3339, p.OccurredAt)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

// Start begins the batching loop. Call in a goroutine.
func (w *TelemetryWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	buffer := make([]*telemetryPayload, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// Flush on size or age.
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistProctorEventsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty, loop back to check flush timer
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var payload telemetryPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			// Malformed JSON cannot be retried. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		buffer = append(buffer, &payload)
	}
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *TelemetryWorker) flushSafe(ctx context.Context, batch []*telemetryPayload) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *TelemetryWorker) bulkInsert(ctx context.Context, batch []*telemetryPayload) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, p := range batch {
		assignmentID, err := uuid.Parse(p.AssignmentID)
		if err != nil {
			// Trigger the fallback, which drops the bad row individually.
			return err
		}
		rows = append(rows, []interface{}{
			assignmentID, p.StudentID, p.Payload, p.occurredAt(),
		})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctor_events"},
		[]string{"assignment_id", "student_id", "event_data", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *TelemetryWorker) fallbackInsert(ctx context.Context, batch []*telemetryPayload) {
	requeueList := make([]*telemetryPayload, 0)

	for _, p := range batch {
		assignmentID, err := uuid.Parse(p.AssignmentID)
		if err != nil {
			w.log.Error().Str("assignment_id", p.AssignmentID).Msg("Dropping event with invalid UUID")
			continue
		}

		_, err = w.pool.Exec(ctx,
			`INSERT INTO proctor_events (assignment_id, student_id, event_data, occurred_at)
			 VALUES ($1, $2, $3::jsonb, $4)`,
			assignmentID, p.StudentID, p.Payload, p.occurredAt(),
		)
		if err != nil {
			w.log.Error().Err(err).Int("student_id", p.StudentID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, p)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *TelemetryWorker) requeue(ctx context.Context, items []*telemetryPayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range items {
		data, _ := json.Marshal(p)
		pipe.RPush(ctx, config.WorkerKey.PersistProctorEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Back off so a hard-down database is not hammered.
	time.Sleep(2 * time.Second)
}

func (w *TelemetryWorker) shutdown(buffer []*telemetryPayload) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
