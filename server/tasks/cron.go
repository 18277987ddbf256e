package tasks

import (
	"context"
	"encoding/json"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

var ErrCronConfig = errors.MustNewCode("tasks.cron_config")

// CronScheduler drives user-registered recurring tasks: every enabled task_config row with a cron
// expression becomes an in-process cron entry whose tick enqueues a
// queue row. Execution therefore always goes through the same
// idempotent, crash-safe pickup path as every other task, and a tick
// collapses into the target's existing task row, live or finished;
// only a cancelled row is re-armed by it.
type CronScheduler struct {
	db    *bun.DB
	queue *Queue
	cron  *cron.Cron
	log   zerolog.Logger
}

func NewCronScheduler(db *bun.DB, queue *Queue, logger zerolog.Logger) *CronScheduler {
	return &CronScheduler{
		db:    db,
		queue: queue,
		cron:  cron.New(),
		log:   logger,
	}
}

// LoadAndStart reads every enabled task_config row, registers its
// schedule, and starts the ticker. A row with an invalid expression is
// skipped and logged rather than failing startup; one tenant's typo
// must not take down every other tenant's schedule.
func (s *CronScheduler) LoadAndStart(ctx context.Context) error {
	var configs []catalogstore.TaskConfig
	err := s.db.NewSelect().Model(&configs).
		Where("enabled = true").
		Where("cron_expr != ''").
		Scan(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to load task configs")
	}

	for _, cfg := range configs {
		cfg := cfg
		_, err := s.cron.AddFunc(cfg.CronExpr, func() { s.fire(cfg) })
		if err != nil {
			s.log.Warn().Err(err).
				Str("queue", cfg.Queue).
				Str("project_id", cfg.ProjectID).
				Str("expr", cfg.CronExpr).
				Msg("invalid cron expression, schedule skipped")
		}
	}

	s.cron.Start()
	return nil
}

func (s *CronScheduler) fire(cfg catalogstore.TaskConfig) {
	payload := map[string]string{}
	if len(cfg.Payload) > 0 {
		if err := json.Unmarshal(cfg.Payload, &payload); err != nil {
			s.log.Warn().Err(err).Str("queue", cfg.Queue).Msg("cron task payload unreadable, tick skipped")
			return
		}
	}

	entityType := "project"
	if cfg.WarehouseID != nil {
		entityType = "warehouse"
	}
	_, err := s.queue.Enqueue(context.Background(), EnqueueParams{
		Queue:       cfg.Queue,
		ProjectID:   cfg.ProjectID,
		WarehouseID: cfg.WarehouseID,
		EntityType:  entityType,
		Payload:     payload,
		MaxAttempts: cfg.MaxAttempts,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("queue", cfg.Queue).Msg("cron tick enqueue failed")
	}
}

// Stop halts the ticker and waits for any in-flight enqueue to finish.
func (s *CronScheduler) Stop() {
	<-s.cron.Stop().Done()
}
