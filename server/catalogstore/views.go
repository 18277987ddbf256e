package catalogstore

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/model"
	"github.com/uptrace/bun"
)

// LoadViewMetadata reassembles a ViewMetadata from the view's satellite
// rows, the view analogue of loadTableMetadata. Views share the schema,
// property, snapshot-log (as version log), and metadata-log relations
// with tables; only the version documents live in their own relation.
func (s *Store) LoadViewMetadata(ctx context.Context, tabularID string) (*model.ViewMetadata, error) {
	return s.loadViewMetadata(ctx, s.read, tabularID)
}

func (s *Store) LoadViewMetadataTx(ctx context.Context, tx bun.IDB, tabularID string) (*model.ViewMetadata, error) {
	return s.loadViewMetadata(ctx, tx, tabularID)
}

func (s *Store) loadViewMetadata(ctx context.Context, db bun.IDB, tabularID string) (*model.ViewMetadata, error) {
	t := new(Tabular)
	if err := db.NewSelect().Model(t).Where("id = ?", tabularID).Scan(ctx); err != nil {
		return nil, translateNotFound(err, "tabular", tabularID)
	}
	if t.Kind != KindView {
		return nil, errors.Newf(errors.CommonNotFound, "tabular %q is not a view", tabularID)
	}

	var schemaRows []TabularSchema
	var versionRows []TabularViewVersion
	var logRows []TabularSnapshotLog
	var propRows []TabularProperty

	fetchers := []func() error{
		func() error {
			return db.NewSelect().Model(&schemaRows).Where("tabular_id = ?", tabularID).Scan(ctx)
		},
		func() error {
			return db.NewSelect().Model(&versionRows).Where("tabular_id = ?", tabularID).OrderExpr("version_id ASC").Scan(ctx)
		},
		func() error {
			return db.NewSelect().Model(&logRows).Where("tabular_id = ?", tabularID).OrderExpr("timestamp_ms ASC").Scan(ctx)
		},
		func() error {
			return db.NewSelect().Model(&propRows).Where("tabular_id = ?", tabularID).Scan(ctx)
		},
	}
	for _, fetch := range fetchers {
		if err := fetch(); err != nil {
			return nil, errors.Wrap(errors.CommonInternal, err, "failed to load view metadata satellite rows")
		}
	}

	md := &model.ViewMetadata{
		ViewUUID:             t.TableUUID,
		Location:             t.Location,
		CurrentVersionID:     t.CurrentViewVersionID,
		Properties:           map[string]string{},
		MetadataFileLocation: t.MetadataLocation,
	}
	for _, r := range schemaRows {
		var sc model.Schema
		if err := json.Unmarshal(r.Document, &sc); err != nil {
			return nil, errors.Wrap(errors.CommonInternal, err, "corrupt view schema document").AddContext("schema_id", strconv.Itoa(r.SchemaID))
		}
		md.Schemas = append(md.Schemas, sc)
	}
	for _, r := range versionRows {
		var v model.ViewVersion
		if err := json.Unmarshal(r.Document, &v); err != nil {
			return nil, errors.Wrap(errors.CommonInternal, err, "corrupt view version document").AddContext("version_id", strconv.Itoa(r.VersionID))
		}
		md.Versions = append(md.Versions, v)
	}
	for _, r := range logRows {
		md.VersionLog = append(md.VersionLog, model.SnapshotLogEntry{TimestampMs: r.TimestampMs, SnapshotID: r.SnapshotID})
	}
	for _, r := range propRows {
		md.Properties[r.Key] = r.Value
	}
	return md, nil
}

// PersistViewDelta writes the difference between two ViewMetadata
// states, appends the metadata-log entry, and replaces the view row's
// current-version pointer, mirroring PersistMetadataDelta for tables.
func (s *Store) PersistViewDelta(ctx context.Context, tx bun.IDB, tabularID string, before, after *model.ViewMetadata, metadataFileLocation string, nowMs int64) error {
	beforeSchemas := map[int]bool{}
	for _, b := range before.Schemas {
		beforeSchemas[b.SchemaID] = true
	}
	for _, a := range after.Schemas {
		if beforeSchemas[a.SchemaID] {
			continue
		}
		doc, err := json.Marshal(a)
		if err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to marshal view schema")
		}
		if _, err := tx.NewInsert().Model(&TabularSchema{TabularID: tabularID, SchemaID: a.SchemaID, Document: doc}).Exec(ctx); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to insert view schema")
		}
	}

	beforeVersions := map[int]bool{}
	for _, b := range before.Versions {
		beforeVersions[b.VersionID] = true
	}
	for _, a := range after.Versions {
		if beforeVersions[a.VersionID] {
			continue
		}
		doc, err := json.Marshal(a)
		if err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to marshal view version")
		}
		if _, err := tx.NewInsert().Model(&TabularViewVersion{TabularID: tabularID, VersionID: a.VersionID, Document: doc}).Exec(ctx); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to insert view version")
		}
		if _, err := tx.NewInsert().Model(&TabularSnapshotLog{TabularID: tabularID, TimestampMs: a.TimestampMs, SnapshotID: int64(a.VersionID)}).Exec(ctx); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to append view version log")
		}
	}

	if err := diffProperties(ctx, tx, tabularID, before.Properties, after.Properties); err != nil {
		return err
	}

	if _, err := tx.NewInsert().Model(&TabularMetadataLog{
		TabularID:    tabularID,
		TimestampMs:  nowMs,
		MetadataFile: metadataFileLocation,
	}).Exec(ctx); err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to append view metadata log")
	}

	_, err := tx.NewUpdate().Model((*Tabular)(nil)).
		Set("current_view_version_id = ?", after.CurrentVersionID).
		Set("metadata_location = ?", metadataFileLocation).
		Set("last_updated_ms = ?", nowMs).
		Set("staged = false").
		Set("updated_at = ?", time.UnixMilli(nowMs).UTC()).
		Where("id = ?", tabularID).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to update view row")
	}
	return nil
}
