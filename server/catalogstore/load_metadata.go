package catalogstore

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/model"
	"github.com/uptrace/bun"
)

// LoadTableMetadata assembles the full Iceberg TableMetadata from the
// decomposed satellite tables. It issues one select for the tabular row
// and then one select per satellite table, one after another on the same
// handle; zipping the result sets into typed objects happens
// client-side.
func (s *Store) LoadTableMetadata(ctx context.Context, tabularID string) (*model.TableMetadata, error) {
	return s.loadTableMetadata(ctx, s.read, tabularID)
}

// LoadTableMetadataTx is the same assembly run inside an existing
// transaction, used by the commit engine once it holds the row lock.
func (s *Store) LoadTableMetadataTx(ctx context.Context, tx bun.IDB, tabularID string) (*model.TableMetadata, error) {
	return s.loadTableMetadata(ctx, tx, tabularID)
}

func (s *Store) loadTableMetadata(ctx context.Context, db bun.IDB, tabularID string) (*model.TableMetadata, error) {
	t := new(Tabular)
	if err := db.NewSelect().Model(t).Where("id = ?", tabularID).Scan(ctx); err != nil {
		return nil, translateNotFound(err, "tabular", tabularID)
	}

	var schemaRows []TabularSchema
	var specRows []TabularPartitionSpec
	var sortRows []TabularSortOrder
	var snapshotRows []TabularSnapshot
	var snapshotLogRows []TabularSnapshotLog
	var metadataLogRows []TabularMetadataLog
	var refRows []TabularRef
	var propRows []TabularProperty
	var statRows []TabularStatistics
	var partStatRows []TabularPartitionStatistics

	fetchers := []func() error{
		func() error {
			return db.NewSelect().Model(&schemaRows).Where("tabular_id = ?", tabularID).Scan(ctx)
		},
		func() error {
			return db.NewSelect().Model(&specRows).Where("tabular_id = ?", tabularID).Scan(ctx)
		},
		func() error {
			return db.NewSelect().Model(&sortRows).Where("tabular_id = ?", tabularID).Scan(ctx)
		},
		func() error {
			return db.NewSelect().Model(&snapshotRows).Where("tabular_id = ?", tabularID).OrderExpr("sequence_number ASC").Scan(ctx)
		},
		func() error {
			return db.NewSelect().Model(&snapshotLogRows).Where("tabular_id = ?", tabularID).OrderExpr("timestamp_ms ASC").Scan(ctx)
		},
		func() error {
			return db.NewSelect().Model(&metadataLogRows).Where("tabular_id = ?", tabularID).OrderExpr("timestamp_ms ASC").Scan(ctx)
		},
		func() error {
			return db.NewSelect().Model(&refRows).Where("tabular_id = ?", tabularID).Scan(ctx)
		},
		func() error {
			return db.NewSelect().Model(&propRows).Where("tabular_id = ?", tabularID).Scan(ctx)
		},
		func() error {
			return db.NewSelect().Model(&statRows).Where("tabular_id = ?", tabularID).Scan(ctx)
		},
		func() error {
			return db.NewSelect().Model(&partStatRows).Where("tabular_id = ?", tabularID).Scan(ctx)
		},
	}
	for _, fetch := range fetchers {
		if err := fetch(); err != nil {
			return nil, errors.Wrap(errors.CommonInternal, err, "failed to load table metadata satellite rows")
		}
	}

	md := &model.TableMetadata{
		TableUUID:          t.TableUUID,
		FormatVersion:      model.FormatVersion(t.FormatVersion),
		Location:           t.Location,
		LastSequenceNumber: t.LastSequenceNumber,
		LastUpdatedMs:      t.LastUpdatedMs,
		LastColumnID:       t.LastColumnID,
		LastPartitionID:    t.LastPartitionID,
		NextRowID:          t.NextRowID,
		CurrentSchemaID:    t.CurrentSchemaID,
		DefaultSpecID:      t.DefaultSpecID,
		DefaultSortOrderID: t.DefaultSortOrderID,
		CurrentSnapshotID:  t.CurrentSnapshotID,
		Refs:               map[string]model.Ref{},
		Properties:         map[string]string{},
		MetadataFileLocation: t.MetadataLocation,
	}

	for _, r := range schemaRows {
		var sc model.Schema
		if err := json.Unmarshal(r.Document, &sc); err != nil {
			return nil, errors.Wrap(errors.CommonInternal, err, "corrupt schema document").AddContext("schema_id", strconv.Itoa(r.SchemaID))
		}
		md.Schemas = append(md.Schemas, sc)
	}
	for _, r := range specRows {
		var sp model.PartitionSpec
		if err := json.Unmarshal(r.Document, &sp); err != nil {
			return nil, errors.Wrap(errors.CommonInternal, err, "corrupt partition-spec document").AddContext("spec_id", strconv.Itoa(r.SpecID))
		}
		md.PartitionSpecs = append(md.PartitionSpecs, sp)
	}
	for _, r := range sortRows {
		var so model.SortOrder
		if err := json.Unmarshal(r.Document, &so); err != nil {
			return nil, errors.Wrap(errors.CommonInternal, err, "corrupt sort-order document").AddContext("order_id", strconv.Itoa(r.OrderID))
		}
		md.SortOrders = append(md.SortOrders, so)
	}
	for _, r := range snapshotRows {
		summary := map[string]string{}
		if len(r.Summary) > 0 {
			if err := json.Unmarshal(r.Summary, &summary); err != nil {
				return nil, errors.Wrap(errors.CommonInternal, err, "corrupt snapshot summary").AddContext("snapshot_id", strconv.FormatInt(r.SnapshotID, 10))
			}
		}
		md.Snapshots = append(md.Snapshots, model.Snapshot{
			SnapshotID:       r.SnapshotID,
			ParentSnapshotID: r.ParentSnapshotID,
			SequenceNumber:   r.SequenceNumber,
			TimestampMs:      r.TimestampMs,
			ManifestList:     r.ManifestList,
			Summary:          summary,
			SchemaID:         r.SchemaID,
		})
	}
	for _, r := range snapshotLogRows {
		md.SnapshotLog = append(md.SnapshotLog, model.SnapshotLogEntry{TimestampMs: r.TimestampMs, SnapshotID: r.SnapshotID})
	}
	for _, r := range metadataLogRows {
		md.MetadataLog = append(md.MetadataLog, model.MetadataLogEntry{TimestampMs: r.TimestampMs, MetadataFile: r.MetadataFile})
	}
	for _, r := range refRows {
		md.Refs[r.Name] = model.Ref{
			Name:       r.Name,
			Type:       r.Type,
			SnapshotID: r.SnapshotID,
			Retention: model.RetentionPolicy{
				MinSnapshotsToKeep: r.MinSnapshotsToKeep,
				MaxSnapshotAgeMs:   r.MaxSnapshotAgeMs,
				MaxRefAgeMs:        r.MaxRefAgeMs,
			},
		}
	}
	for _, r := range propRows {
		md.Properties[r.Key] = r.Value
	}
	for _, r := range statRows {
		md.TableStatistics = append(md.TableStatistics, model.TableStatistics{
			SnapshotID:          r.SnapshotID,
			StatisticsPath:      r.StatisticsPath,
			FileSizeBytes:       r.FileSizeBytes,
			FileFooterSizeBytes: r.FileFooterSizeBytes,
		})
	}
	for _, r := range partStatRows {
		md.PartitionStatistics = append(md.PartitionStatistics, model.PartitionStatistics{
			SnapshotID:     r.SnapshotID,
			StatisticsPath: r.StatisticsPath,
			FileSizeBytes:  r.FileSizeBytes,
		})
	}

	return md, nil
}
