package tasks

import (
	"context"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/catalogstore"
)

// CommitEnqueuer adapts Queue to the commit engine's TaskEnqueuer
// interface. The engine hands over a payload keyed by tabular_id; the
// adapter resolves the tabular (including soft-deleted rows, since
// expiration tasks target exactly those) to fill in the project and
// warehouse scope the task relation requires.
type CommitEnqueuer struct {
	queue *Queue
	store *catalogstore.Store
}

func NewCommitEnqueuer(queue *Queue, store *catalogstore.Store) *CommitEnqueuer {
	return &CommitEnqueuer{queue: queue, store: store}
}

func (e *CommitEnqueuer) Enqueue(ctx context.Context, kind string, payload map[string]string, runAfter time.Time) error {
	tabularID, ok := payload["tabular_id"]
	if !ok {
		return errors.Newf(errors.CommonInvalidInput, "task %q requires a tabular_id payload entry", kind)
	}

	warehouseID := payload["warehouse_id"]
	entityType := "table"
	tabular, err := e.store.GetTabularIncludeDeleted(ctx, tabularID)
	switch {
	case err == nil:
		warehouseID = tabular.WarehouseID
		entityType = tabular.Kind
	case catalogstore.IsNotFound(err) && warehouseID != "":
		// Purge tasks are enqueued after the hard delete removed the
		// row; the payload carries the scope instead.
	default:
		return err
	}

	warehouse, err := e.store.GetWarehouse(ctx, warehouseID)
	if err != nil {
		return err
	}

	_, err = e.queue.Enqueue(ctx, EnqueueParams{
		Queue:        kind,
		ProjectID:    warehouse.ProjectID,
		WarehouseID:  &warehouseID,
		EntityType:   entityType,
		EntityID:     &tabularID,
		Payload:      payload,
		ScheduledFor: runAfter,
	})
	return err
}
