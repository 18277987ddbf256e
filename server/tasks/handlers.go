package tasks

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/rs/zerolog"
)

// ObjectRemover is the slice of the storage access broker the cleanup
// handlers need: deleting individual metadata files and whole tabular
// prefixes with the warehouse's own credentials.
type ObjectRemover interface {
	DeleteObject(ctx context.Context, warehouseID, uri string) error
	DeletePrefix(ctx context.Context, warehouseID, prefix string) error
}

func decodePayload(task *catalogstore.Task) (map[string]string, error) {
	payload := map[string]string{}
	if len(task.Payload) > 0 {
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return nil, errors.Wrap(errors.CommonInternal, err, "corrupt task payload")
		}
	}
	return payload, nil
}

// ExpirationHandler promotes a soft delete to a hard delete once the
// warehouse TTL has passed, then chains a purge task for the
// object-storage prefix.
type ExpirationHandler struct {
	Store *catalogstore.Store
	Tasks *Queue
	Log   zerolog.Logger
}

func (h *ExpirationHandler) QueueName() string { return QueueTabularExpiration }

func (h *ExpirationHandler) Handle(ctx context.Context, task *catalogstore.Task, checkpoint Checkpoint) error {
	payload, err := decodePayload(task)
	if err != nil {
		return err
	}
	tabularID := payload["tabular_id"]

	tabular, err := h.Store.GetTabularIncludeDeleted(ctx, tabularID)
	if err != nil {
		if catalogstore.IsNotFound(err) {
			return nil // already gone, idempotent success
		}
		return err
	}
	if tabular.DeletedAt == nil {
		// Un-deleted between enqueue and execution; nothing to expire.
		return nil
	}
	if err := checkpoint(0.5); err != nil {
		return err
	}

	if err := h.Store.HardDeleteTabular(ctx, tabularID); err != nil && !catalogstore.IsNotFound(err) {
		return err
	}

	_, err = h.Tasks.Enqueue(ctx, EnqueueParams{
		Queue:        QueueTabularPurge,
		ProjectID:    task.ProjectID,
		WarehouseID:  task.WarehouseID,
		EntityType:   task.EntityType,
		EntityID:     task.EntityID,
		Payload:      payload,
		ParentTaskID: &task.ID,
	})
	return err
}

// PurgeHandler deletes everything under the dropped tabular's storage
// prefix. The prefix comes from the task payload because the tabular
// row no longer exists by the time this runs.
type PurgeHandler struct {
	Objects ObjectRemover
	Log     zerolog.Logger
}

func (h *PurgeHandler) QueueName() string { return QueueTabularPurge }

func (h *PurgeHandler) Handle(ctx context.Context, task *catalogstore.Task, checkpoint Checkpoint) error {
	payload, err := decodePayload(task)
	if err != nil {
		return err
	}
	location := payload["location"]
	if location == "" {
		return errors.New(errors.CommonInvalidInput, "purge task payload carries no location")
	}
	if task.WarehouseID == nil {
		return errors.New(errors.CommonInvalidInput, "purge task has no warehouse scope")
	}
	if err := checkpoint(0.1); err != nil {
		return err
	}
	return h.Objects.DeletePrefix(ctx, *task.WarehouseID, location)
}

// MetadataLogCleanupHandler trims a table's metadata_log to the cap in
// write.metadata.previous-versions-max and deletes the surplus files
// from object storage.
type MetadataLogCleanupHandler struct {
	Store   *catalogstore.Store
	Objects ObjectRemover
	Log     zerolog.Logger
}

const defaultPreviousVersionsMax = 100

func (h *MetadataLogCleanupHandler) QueueName() string { return QueueMetadataLogCleanup }

func (h *MetadataLogCleanupHandler) Handle(ctx context.Context, task *catalogstore.Task, checkpoint Checkpoint) error {
	payload, err := decodePayload(task)
	if err != nil {
		return err
	}
	tabularID := payload["tabular_id"]

	md, err := h.Store.LoadTableMetadata(ctx, tabularID)
	if err != nil {
		if catalogstore.IsNotFound(err) {
			return nil
		}
		return err
	}

	keep := defaultPreviousVersionsMax
	if v, ok := md.Properties["write.metadata.previous-versions-max"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			keep = n
		}
	}

	surplus, err := h.Store.TrimMetadataLog(ctx, tabularID, keep)
	if err != nil {
		return err
	}
	if task.WarehouseID == nil {
		return errors.New(errors.CommonInvalidInput, "cleanup task has no warehouse scope")
	}
	for i, file := range surplus {
		if err := checkpoint(float64(i) / float64(len(surplus))); err != nil {
			return err
		}
		if err := h.Objects.DeleteObject(ctx, *task.WarehouseID, file); err != nil {
			return err
		}
	}
	return nil
}

// StatisticsRollupHandler writes the per-warehouse rollup rows and
// prunes both statistics streams per the stat-retention configuration.
type StatisticsRollupHandler struct {
	Store      *catalogstore.Store
	MaxAge     time.Duration
	MaxEntries int
	Log        zerolog.Logger
}

func (h *StatisticsRollupHandler) QueueName() string { return QueueStatisticsRollup }

func (h *StatisticsRollupHandler) Handle(ctx context.Context, task *catalogstore.Task, checkpoint Checkpoint) error {
	n, err := h.Store.CollectWarehouseStatistics(ctx)
	if err != nil {
		return err
	}
	h.Log.Debug().Int("warehouses", n).Msg("collected warehouse statistics")
	if err := checkpoint(0.5); err != nil {
		return err
	}
	return h.Store.PruneStatistics(ctx, h.MaxAge, h.MaxEntries)
}
