package catalogstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/model"
	"github.com/uptrace/bun"
)

// PersistMetadataDelta writes the committed TableMetadata back to the
// satellite tables inside tx.
// Per-satellite it inserts rows not present in `before`; unchanged rows
// are left alone. Schemas, partition specs, sort orders and the snapshot
// log are append-only here; snapshots, refs, properties and statistics
// also have their rows deleted when they are no longer present in `after`.
// A metadata_log row is always appended, and the table row's scalar
// counters are replaced wholesale with the committed values.
func (s *Store) PersistMetadataDelta(ctx context.Context, tx bun.IDB, tabularID string, before, after *model.TableMetadata, metadataFileLocation string, nowMs int64) error {
	if err := diffSchemas(ctx, tx, tabularID, before.Schemas, after.Schemas); err != nil {
		return err
	}
	if err := diffSpecs(ctx, tx, tabularID, before.PartitionSpecs, after.PartitionSpecs); err != nil {
		return err
	}
	if err := diffSortOrders(ctx, tx, tabularID, before.SortOrders, after.SortOrders); err != nil {
		return err
	}
	if err := diffSnapshots(ctx, tx, tabularID, before.Snapshots, after.Snapshots); err != nil {
		return err
	}
	if err := diffSnapshotLog(ctx, tx, tabularID, before.SnapshotLog, after.SnapshotLog); err != nil {
		return err
	}
	if err := diffRefs(ctx, tx, tabularID, before.Refs, after.Refs); err != nil {
		return err
	}
	if err := diffProperties(ctx, tx, tabularID, before.Properties, after.Properties); err != nil {
		return err
	}
	if err := diffStatistics(ctx, tx, tabularID, before.TableStatistics, after.TableStatistics); err != nil {
		return err
	}
	if err := diffPartitionStatistics(ctx, tx, tabularID, before.PartitionStatistics, after.PartitionStatistics); err != nil {
		return err
	}

	if _, err := tx.NewInsert().Model(&TabularMetadataLog{
		TabularID:    tabularID,
		TimestampMs:  nowMs,
		MetadataFile: metadataFileLocation,
	}).Exec(ctx); err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to append metadata log")
	}

	_, err := tx.NewUpdate().Model((*Tabular)(nil)).
		Set("last_sequence_number = ?", after.LastSequenceNumber).
		Set("last_column_id = ?", after.LastColumnID).
		Set("last_partition_id = ?", after.LastPartitionID).
		Set("last_updated_ms = ?", after.LastUpdatedMs).
		Set("next_row_id = ?", after.NextRowID).
		Set("format_version = ?", int(after.FormatVersion)).
		Set("current_schema_id = ?", after.CurrentSchemaID).
		Set("default_spec_id = ?", after.DefaultSpecID).
		Set("default_sort_order_id = ?", after.DefaultSortOrderID).
		Set("current_snapshot_id = ?", after.CurrentSnapshotID).
		Set("metadata_location = ?", metadataFileLocation).
		Set("staged = false").
		Set("updated_at = ?", time.UnixMilli(nowMs).UTC()).
		Where("id = ?", tabularID).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to update tabular scalar counters")
	}
	return nil
}

func diffSchemas(ctx context.Context, tx bun.IDB, tabularID string, before, after []model.Schema) error {
	seen := map[int]bool{}
	for _, b := range before {
		seen[b.SchemaID] = true
	}
	for _, a := range after {
		if seen[a.SchemaID] {
			continue
		}
		doc, err := json.Marshal(a)
		if err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to marshal schema")
		}
		if _, err := tx.NewInsert().Model(&TabularSchema{TabularID: tabularID, SchemaID: a.SchemaID, Document: doc}).Exec(ctx); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to insert schema")
		}
	}
	return nil
}

func diffSpecs(ctx context.Context, tx bun.IDB, tabularID string, before, after []model.PartitionSpec) error {
	seen := map[int]bool{}
	for _, b := range before {
		seen[b.SpecID] = true
	}
	for _, a := range after {
		if seen[a.SpecID] {
			continue
		}
		doc, err := json.Marshal(a)
		if err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to marshal partition spec")
		}
		if _, err := tx.NewInsert().Model(&TabularPartitionSpec{TabularID: tabularID, SpecID: a.SpecID, Document: doc}).Exec(ctx); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to insert partition spec")
		}
	}
	return nil
}

func diffSortOrders(ctx context.Context, tx bun.IDB, tabularID string, before, after []model.SortOrder) error {
	seen := map[int]bool{}
	for _, b := range before {
		seen[b.OrderID] = true
	}
	for _, a := range after {
		if seen[a.OrderID] {
			continue
		}
		doc, err := json.Marshal(a)
		if err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to marshal sort order")
		}
		if _, err := tx.NewInsert().Model(&TabularSortOrder{TabularID: tabularID, OrderID: a.OrderID, Document: doc}).Exec(ctx); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to insert sort order")
		}
	}
	return nil
}

func diffSnapshots(ctx context.Context, tx bun.IDB, tabularID string, before, after []model.Snapshot) error {
	seen := map[int64]bool{}
	for _, b := range before {
		seen[b.SnapshotID] = true
	}
	afterIDs := map[int64]bool{}
	for _, a := range after {
		afterIDs[a.SnapshotID] = true
		if seen[a.SnapshotID] {
			continue
		}
		summary, err := json.Marshal(a.Summary)
		if err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to marshal snapshot summary")
		}
		row := &TabularSnapshot{
			TabularID:        tabularID,
			SnapshotID:       a.SnapshotID,
			ParentSnapshotID: a.ParentSnapshotID,
			SequenceNumber:   a.SequenceNumber,
			TimestampMs:      a.TimestampMs,
			ManifestList:     a.ManifestList,
			Summary:          summary,
			SchemaID:         a.SchemaID,
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to insert snapshot")
		}
	}
	// remove-snapshots: delete rows present in before but absent from after
	for _, b := range before {
		if !afterIDs[b.SnapshotID] {
			if _, err := tx.NewDelete().Model((*TabularSnapshot)(nil)).
				Where("tabular_id = ? AND snapshot_id = ?", tabularID, b.SnapshotID).Exec(ctx); err != nil {
				return errors.Wrap(errors.CommonInternal, err, "failed to delete removed snapshot")
			}
			if _, err := tx.NewDelete().Model((*TabularStatistics)(nil)).
				Where("tabular_id = ? AND snapshot_id = ?", tabularID, b.SnapshotID).Exec(ctx); err != nil {
				return errors.Wrap(errors.CommonInternal, err, "failed to delete orphaned statistics")
			}
		}
	}
	return nil
}

func diffSnapshotLog(ctx context.Context, tx bun.IDB, tabularID string, before, after []model.SnapshotLogEntry) error {
	if len(after) <= len(before) {
		return nil
	}
	for _, entry := range after[len(before):] {
		if _, err := tx.NewInsert().Model(&TabularSnapshotLog{
			TabularID:   tabularID,
			TimestampMs: entry.TimestampMs,
			SnapshotID:  entry.SnapshotID,
		}).Exec(ctx); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to append snapshot log")
		}
	}
	return nil
}

func diffRefs(ctx context.Context, tx bun.IDB, tabularID string, before, after map[string]model.Ref) error {
	for name, a := range after {
		b, existed := before[name]
		if existed && b == a {
			continue
		}
		if existed {
			if _, err := tx.NewDelete().Model((*TabularRef)(nil)).
				Where("tabular_id = ? AND name = ?", tabularID, name).Exec(ctx); err != nil {
				return errors.Wrap(errors.CommonInternal, err, "failed to clear stale ref")
			}
		}
		row := &TabularRef{
			TabularID:          tabularID,
			Name:               name,
			Type:               a.Type,
			SnapshotID:         a.SnapshotID,
			MinSnapshotsToKeep: a.Retention.MinSnapshotsToKeep,
			MaxSnapshotAgeMs:   a.Retention.MaxSnapshotAgeMs,
			MaxRefAgeMs:        a.Retention.MaxRefAgeMs,
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to upsert ref")
		}
	}
	for name := range before {
		if _, still := after[name]; !still {
			if _, err := tx.NewDelete().Model((*TabularRef)(nil)).
				Where("tabular_id = ? AND name = ?", tabularID, name).Exec(ctx); err != nil {
				return errors.Wrap(errors.CommonInternal, err, "failed to remove ref")
			}
		}
	}
	return nil
}

func diffProperties(ctx context.Context, tx bun.IDB, tabularID string, before, after map[string]string) error {
	for key, value := range after {
		if b, ok := before[key]; ok && b == value {
			continue
		}
		if _, ok := before[key]; ok {
			if _, err := tx.NewUpdate().Model((*TabularProperty)(nil)).
				Set("value = ?", value).
				Where("tabular_id = ? AND key = ?", tabularID, key).Exec(ctx); err != nil {
				return errors.Wrap(errors.CommonInternal, err, "failed to update property")
			}
			continue
		}
		if _, err := tx.NewInsert().Model(&TabularProperty{TabularID: tabularID, Key: key, Value: value}).Exec(ctx); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to insert property")
		}
	}
	for key := range before {
		if _, still := after[key]; !still {
			if _, err := tx.NewDelete().Model((*TabularProperty)(nil)).
				Where("tabular_id = ? AND key = ?", tabularID, key).Exec(ctx); err != nil {
				return errors.Wrap(errors.CommonInternal, err, "failed to remove property")
			}
		}
	}
	return nil
}

func diffStatistics(ctx context.Context, tx bun.IDB, tabularID string, before, after []model.TableStatistics) error {
	seen := map[int64]bool{}
	for _, b := range before {
		seen[b.SnapshotID] = true
	}
	afterIDs := map[int64]bool{}
	for _, a := range after {
		afterIDs[a.SnapshotID] = true
		if seen[a.SnapshotID] {
			continue
		}
		row := &TabularStatistics{
			TabularID:           tabularID,
			SnapshotID:          a.SnapshotID,
			StatisticsPath:      a.StatisticsPath,
			FileSizeBytes:       a.FileSizeBytes,
			FileFooterSizeBytes: a.FileFooterSizeBytes,
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to insert table statistics")
		}
	}
	for _, b := range before {
		if !afterIDs[b.SnapshotID] {
			if _, err := tx.NewDelete().Model((*TabularStatistics)(nil)).
				Where("tabular_id = ? AND snapshot_id = ?", tabularID, b.SnapshotID).Exec(ctx); err != nil {
				return errors.Wrap(errors.CommonInternal, err, "failed to remove table statistics")
			}
		}
	}
	return nil
}

func diffPartitionStatistics(ctx context.Context, tx bun.IDB, tabularID string, before, after []model.PartitionStatistics) error {
	seen := map[int64]bool{}
	for _, b := range before {
		seen[b.SnapshotID] = true
	}
	afterIDs := map[int64]bool{}
	for _, a := range after {
		afterIDs[a.SnapshotID] = true
		if seen[a.SnapshotID] {
			continue
		}
		row := &TabularPartitionStatistics{
			TabularID:      tabularID,
			SnapshotID:     a.SnapshotID,
			StatisticsPath: a.StatisticsPath,
			FileSizeBytes:  a.FileSizeBytes,
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to insert partition statistics")
		}
	}
	for _, b := range before {
		if !afterIDs[b.SnapshotID] {
			if _, err := tx.NewDelete().Model((*TabularPartitionStatistics)(nil)).
				Where("tabular_id = ? AND snapshot_id = ?", tabularID, b.SnapshotID).Exec(ctx); err != nil {
				return errors.Wrap(errors.CommonInternal, err, "failed to remove partition statistics")
			}
		}
	}
	return nil
}
