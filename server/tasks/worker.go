package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/gear6io/icecatalog/server/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// Checkpoint is the handler's progress hook. Calling it records
// progress and returns ErrCancelled when the task has been flipped to
// should-stop, so handlers observe cancellation only at declared
// checkpoints.
type Checkpoint func(progress float64) error

// Handler executes one queue's tasks. Handlers must be idempotent:
// at-least-once delivery means a crash after the work but before the
// status write replays the task.
type Handler interface {
	QueueName() string
	Handle(ctx context.Context, task *catalogstore.Task, checkpoint Checkpoint) error
}

// WorkerPoolOptions carries the max-age and poll-interval parts of the
// queue-config surface. It has no retry limit: each task's own
// MaxAttempts (5 when the enqueuer leaves it unset) decides how often it
// is retried.
type WorkerPoolOptions struct {
	Workers      int
	PollInterval time.Duration
	MaxTaskAge   time.Duration // running longer than this is stale and reclaimable
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	Logger       zerolog.Logger
}

// WorkerPool polls the task relation and dispatches to handlers. Any
// number of pools on any number of processes may run concurrently;
// SKIP LOCKED keeps them from double-picking.
type WorkerPool struct {
	db       *bun.DB
	queue    *Queue
	handlers map[string]Handler
	opts     WorkerPoolOptions
	log      zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewWorkerPool(db *bun.DB, queue *Queue, opts WorkerPoolOptions) *WorkerPool {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaxTaskAge <= 0 {
		opts.MaxTaskAge = 5 * time.Minute
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 5 * time.Minute
	}
	return &WorkerPool{
		db:       db,
		queue:    queue,
		handlers: map[string]Handler{},
		opts:     opts,
		log:      opts.Logger,
	}
}

// Register adds a handler for its queue. Must be called before Start.
func (w *WorkerPool) Register(h Handler) {
	w.handlers[h.QueueName()] = h
}

// Start launches the worker goroutines. They run until Stop or ctx
// cancellation.
func (w *WorkerPool) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.opts.Workers; i++ {
		workerID := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
		w.wg.Add(1)
		go w.run(ctx, workerID)
	}
}

// Stop signals the workers and waits for in-flight handlers to return.
func (w *WorkerPool) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *WorkerPool) run(ctx context.Context, workerID string) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				picked, err := w.pollOnce(ctx, workerID)
				if err != nil {
					w.log.Warn().Err(err).Str("worker", workerID).Msg("task poll failed")
					break
				}
				if !picked {
					break
				}
			}
			if depth, err := w.queue.PendingCount(ctx); err == nil {
				metrics.TaskQueueDepth.Set(float64(depth))
			}
		}
	}
}

// pollOnce atomically picks up the single oldest runnable task, runs
// its handler, and writes the terminal (or retry) status. Returns true
// when a task was picked so the caller drains the queue before
// sleeping again.
func (w *WorkerPool) pollOnce(ctx context.Context, workerID string) (bool, error) {
	task, err := w.pickUp(ctx, workerID)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	handler, ok := w.handlers[task.Queue]
	if !ok {
		w.finish(ctx, task, StatusFailed, fmt.Sprintf("no handler registered for queue %q", task.Queue))
		return true, nil
	}

	checkpoint := w.checkpointFor(ctx, task)
	err = handler.Handle(ctx, task, checkpoint)
	switch {
	case err == nil:
		w.finish(ctx, task, StatusSuccess, "")
	case errors.GetCode(err) == ErrCancelled.String():
		w.finish(ctx, task, StatusCancelled, "stopped at checkpoint")
	case task.Attempt < task.MaxAttempts:
		w.retry(ctx, task, err)
	default:
		w.finish(ctx, task, StatusFailed, err.Error())
	}
	return true, nil
}

// pickUp runs the pickup transaction: oldest pending task due
// now, or a stale running task whose worker evidently died, locked with
// SKIP LOCKED so concurrent workers never contend.
func (w *WorkerPool) pickUp(ctx context.Context, workerID string) (*catalogstore.Task, error) {
	var picked *catalogstore.Task
	err := w.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		staleBefore := now.Add(-w.opts.MaxTaskAge)

		task := new(catalogstore.Task)
		err := tx.NewSelect().Model(task).
			Where("(status = ? AND scheduled_for <= ?) OR (status = ? AND picked_up_at < ?)",
				StatusPending, now, StatusRunning, staleBefore).
			OrderExpr("scheduled_for ASC").
			Limit(1).
			For("UPDATE SKIP LOCKED").
			Scan(ctx)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}

		task.Status = StatusRunning
		task.Attempt++
		task.PickedUpAt = &now
		task.PickedUpBy = workerID
		if _, err := tx.NewUpdate().Model(task).
			Column("status", "attempt", "picked_up_at", "picked_up_by").
			WherePK().
			Exec(ctx); err != nil {
			return err
		}
		picked = task
		return nil
	})
	return picked, err
}

// checkpointFor builds the handler's progress hook: persist progress,
// surface should-stop as ErrCancelled.
func (w *WorkerPool) checkpointFor(ctx context.Context, task *catalogstore.Task) Checkpoint {
	return func(progress float64) error {
		var status string
		err := w.db.NewSelect().Model((*catalogstore.Task)(nil)).
			Column("status").
			Where("id = ?", task.ID).
			Scan(ctx, &status)
		if err != nil {
			return errors.Wrap(errors.CommonInternal, err, "checkpoint status read failed")
		}
		if status == StatusShouldStop {
			return errors.New(ErrCancelled, "task stop requested")
		}
		_, err = w.db.NewUpdate().Model((*catalogstore.Task)(nil)).
			Set("progress = ?", progress).
			Where("id = ?", task.ID).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(errors.CommonInternal, err, "checkpoint progress write failed")
		}
		return nil
	}
}

func (w *WorkerPool) retry(ctx context.Context, task *catalogstore.Task, cause error) {
	delay := backoffDelay(task.Attempt, w.opts.BackoffBase, w.opts.BackoffMax)
	w.log.Warn().Err(cause).
		Str("task_id", task.ID).
		Str("queue", task.Queue).
		Int("attempt", task.Attempt).
		Dur("backoff", delay).
		Msg("task failed, will retry")

	_, err := w.db.NewUpdate().Model((*catalogstore.Task)(nil)).
		Set("status = ?", StatusPending).
		Set("scheduled_for = ?", time.Now().UTC().Add(delay)).
		Set("picked_up_at = NULL").
		Where("id = ?", task.ID).
		Exec(ctx)
	if err != nil {
		w.log.Error().Err(err).Str("task_id", task.ID).Msg("failed to reschedule task")
	}
}

// finish writes the terminal status and the append-only task_log row.
func (w *WorkerPool) finish(ctx context.Context, task *catalogstore.Task, status, message string) {
	metrics.TasksProcessed.WithLabelValues(task.Queue, status).Inc()
	if status != StatusSuccess {
		w.log.Warn().Str("task_id", task.ID).Str("queue", task.Queue).Str("status", status).Str("message", message).Msg("task finished")
	}

	_, err := w.db.NewUpdate().Model((*catalogstore.Task)(nil)).
		Set("status = ?", status).
		Set("progress = CASE WHEN ? = ? THEN 1.0 ELSE progress END", status, StatusSuccess).
		Where("id = ?", task.ID).
		Exec(ctx)
	if err != nil {
		w.log.Error().Err(err).Str("task_id", task.ID).Msg("failed to write terminal task status")
	}

	if _, err := w.db.NewInsert().Model(&catalogstore.TaskLog{
		TaskID:  task.ID,
		Queue:   task.Queue,
		Attempt: task.Attempt,
		Status:  status,
		Message: message,
	}).Exec(ctx); err != nil {
		w.log.Error().Err(err).Str("task_id", task.ID).Msg("failed to append task log")
	}
}
