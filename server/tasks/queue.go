// Package tasks is the Task Queue: at-least-once, idempotent
// background execution of metadata-file cleanup, soft-delete
// expiration, storage purges, and statistics rollups, stored in the
// catalog database and picked up with SELECT ... FOR UPDATE SKIP
// LOCKED.
package tasks

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// Queue names, one per background task kind.
const (
	QueueTabularExpiration  = "tabular_expiration"
	QueueTabularPurge       = "tabular_purge"
	QueueMetadataLogCleanup = "metadata_log_cleanup"
	QueueStatisticsRollup   = "statistics_rollup"
	QueueCron               = "cron"
)

// Task statuses. should-stop is the cooperative-cancellation
// intermediate: the running handler observes it at its next progress
// checkpoint and unwinds.
const (
	StatusPending    = "pending"
	StatusRunning    = "running"
	StatusShouldStop = "should-stop"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

var (
	ErrUnknownQueue = errors.MustNewCode("tasks.unknown_queue")
	ErrCancelled    = errors.MustNewCode("tasks.cancelled")
)

// Queue enqueues and administers tasks. Workers live in WorkerPool.
type Queue struct {
	db  *bun.DB
	log zerolog.Logger
}

func NewQueue(db *bun.DB, logger zerolog.Logger) *Queue {
	return &Queue{db: db, log: logger}
}

// EnqueueParams identifies the task target. The (project, warehouse,
// entity, queue) tuple doubles as the idempotency key, so at most one
// live task exists per target per queue.
type EnqueueParams struct {
	Queue        string
	ProjectID    string
	WarehouseID  *string
	EntityType   string // project | warehouse | table | view
	EntityID     *string
	Payload      map[string]string
	ScheduledFor time.Time
	ParentTaskID *string
	MaxAttempts  int
}

func (p EnqueueParams) idempotencyKey() string {
	wh, ent := "", ""
	if p.WarehouseID != nil {
		wh = *p.WarehouseID
	}
	if p.EntityID != nil {
		ent = *p.EntityID
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s\x1f%s", p.ProjectID, wh, p.EntityType, ent, p.Queue)))
	return hex.EncodeToString(sum[:])
}

// Enqueue inserts a pending task, or returns the existing row with the
// same idempotency key unchanged, whether that row is live or finished.
// Only a row left in status cancelled is re-armed to pending.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (*catalogstore.Task, error) {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, errors.Wrap(errors.CommonInvalidInput, err, "task payload not serializable")
	}
	if p.ScheduledFor.IsZero() {
		p.ScheduledFor = time.Now().UTC()
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}

	task := &catalogstore.Task{
		ID:             ulid.Make().String(),
		IdempotencyKey: p.idempotencyKey(),
		Queue:          p.Queue,
		Payload:        payload,
		ProjectID:      p.ProjectID,
		WarehouseID:    p.WarehouseID,
		EntityType:     p.EntityType,
		EntityID:       p.EntityID,
		ParentTaskID:   p.ParentTaskID,
		Status:         StatusPending,
		MaxAttempts:    p.MaxAttempts,
		ScheduledFor:   p.ScheduledFor.UTC(),
	}

	_, err = q.db.NewInsert().Model(task).
		On("CONFLICT (idempotency_key) DO UPDATE").
		Set("status = CASE WHEN task.status = ? THEN ? ELSE task.status END", StatusCancelled, StatusPending).
		Set("scheduled_for = CASE WHEN task.status = ? THEN EXCLUDED.scheduled_for ELSE task.scheduled_for END", StatusCancelled).
		Set("attempt = CASE WHEN task.status = ? THEN 0 ELSE task.attempt END", StatusCancelled).
		Exec(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.CommonInternal, err, "failed to enqueue task")
	}

	stored := new(catalogstore.Task)
	if err := q.db.NewSelect().Model(stored).Where("idempotency_key = ?", task.IdempotencyKey).Scan(ctx); err != nil {
		return nil, errors.Wrap(errors.CommonInternal, err, "failed to read back enqueued task")
	}
	return stored, nil
}

// RequestStop flips a running task to should-stop so the handler
// unwinds at its next progress checkpoint. Pending tasks cancel
// immediately.
func (q *Queue) RequestStop(ctx context.Context, taskID string) error {
	res, err := q.db.NewUpdate().Model((*catalogstore.Task)(nil)).
		Set("status = CASE WHEN status = ? THEN ? ELSE ? END", StatusPending, StatusCancelled, StatusShouldStop).
		Where("id = ?", taskID).
		Where("status IN (?)", bun.In([]string{StatusPending, StatusRunning})).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to request task stop")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.CommonNotFound, "no stoppable task %q", taskID)
	}
	return nil
}

// PendingCount reports queue depth for the poll-time gauge.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	n, err := q.db.NewSelect().Model((*catalogstore.Task)(nil)).
		Where("status = ?", StatusPending).
		Count(ctx)
	if err != nil && err != sql.ErrNoRows {
		return 0, errors.Wrap(errors.CommonInternal, err, "failed to count pending tasks")
	}
	return n, nil
}

// backoffDelay is the retry schedule: exponential from base with ±20%
// jitter, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	if rand.Intn(2) == 0 {
		return d - jitter
	}
	return d + jitter
}
