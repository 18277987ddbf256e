// Package commit is the Commit Engine: orchestrates Iceberg
// updateTable, updateView, createTable, registerTable, stageTable,
// loadTable, dropTable and their view equivalents over a pure
// TableMetadataBuilder and the Catalog Store's transactional primitives.
package commit

import (
	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/model"
)

var (
	ErrInvalidUpdate = errors.MustNewCode("commit.invalid_update")
)

// TableMetadataBuilder applies an ordered list of updates to a
// TableMetadata, enforcing the commit invariants. Regressing the
// sequence number, reassigning a field id, and pointing a ref at a
// missing snapshot are rejected; colliding schema/spec/sort-order ids
// are reassigned, and reused snapshot timestamps are rewritten forward.
type TableMetadataBuilder struct {
	md    *model.TableMetadata
	nowMs int64
}

// NewTableMetadataBuilder starts a build from a cloned pre-image so the
// original stays available for requirement evaluation against the
// unmutated state.
func NewTableMetadataBuilder(pre *model.TableMetadata, nowMs int64) *TableMetadataBuilder {
	return &TableMetadataBuilder{md: pre.Clone(), nowMs: nowMs}
}

func (b *TableMetadataBuilder) Metadata() *model.TableMetadata { return b.md }

// Apply runs one update in order, returning a typed error on the first
// rejected update.
func (b *TableMetadataBuilder) Apply(u model.Update) error {
	switch u.Kind {
	case model.UpdateAddSchema:
		return b.applyAddSchema(u)
	case model.UpdateSetCurrentSchema:
		return b.applySetCurrentSchema(u)
	case model.UpdateAddPartitionSpec:
		return b.applyAddPartitionSpec(u)
	case model.UpdateSetDefaultSpec:
		return b.applySetDefaultSpec(u)
	case model.UpdateAddSortOrder:
		return b.applyAddSortOrder(u)
	case model.UpdateSetDefaultSortOrder:
		return b.applySetDefaultSortOrder(u)
	case model.UpdateAddSnapshot:
		return b.applyAddSnapshot(u)
	case model.UpdateRemoveSnapshots:
		return b.applyRemoveSnapshots(u)
	case model.UpdateSetSnapshotRef:
		return b.applySetSnapshotRef(u)
	case model.UpdateRemoveSnapshotRef:
		return b.applyRemoveSnapshotRef(u)
	case model.UpdateSetProperties:
		return b.applySetProperties(u)
	case model.UpdateRemoveProperties:
		return b.applyRemoveProperties(u)
	case model.UpdateSetLocation:
		b.md.Location = u.Location
		return nil
	case model.UpdateUpgradeFormatVersion:
		return b.applyUpgradeFormatVersion(u)
	case model.UpdateAssignUUID:
		b.md.TableUUID = u.UUID
		return nil
	case model.UpdateSetStatistics:
		return b.applySetStatistics(u)
	case model.UpdateRemoveStatistics:
		return b.applyRemoveStatistics(u)
	case model.UpdateAddViewVersion, model.UpdateSetCurrentViewVersion:
		// View-only updates are applied by ViewMetadataBuilder; a
		// table-metadata commit carrying one is a caller error.
		return errors.Newf(ErrInvalidUpdate, "update %q is view-only", u.Kind)
	default:
		return errors.Newf(ErrInvalidUpdate, "unrecognized update kind %q", u.Kind)
	}
}

func (b *TableMetadataBuilder) applyAddSchema(u model.Update) error {
	if u.Schema == nil {
		return errors.New(ErrInvalidUpdate, "add-schema requires a schema")
	}
	sc := *u.Schema
	if b.md.SchemaByID(sc.SchemaID) != nil {
		// Reassign ids for added schemas if the client-supplied one
		// collides.
		sc.SchemaID = b.nextSchemaID()
	}
	// A field id, once assigned, is never reassigned: ids at or below
	// the watermark are only acceptable when they continue a column of
	// the current schema (kept, renamed, or retyped in place); a new
	// column must take a fresh id above it.
	current := map[int]bool{}
	if cs := b.md.CurrentSchema(); cs != nil {
		for _, f := range cs.Fields {
			current[f.ID] = true
		}
	}
	for _, f := range sc.Fields {
		if f.ID <= b.md.LastColumnID && !current[f.ID] {
			return errors.Newf(ErrInvalidUpdate, "add-schema: field id %d was already assigned and cannot be reassigned", f.ID)
		}
	}
	if max := sc.MaxFieldID(); max > b.md.LastColumnID {
		b.md.LastColumnID = max
	}
	b.md.Schemas = append(b.md.Schemas, sc)
	return nil
}

func (b *TableMetadataBuilder) nextSchemaID() int {
	max := -1
	for _, s := range b.md.Schemas {
		if s.SchemaID > max {
			max = s.SchemaID
		}
	}
	return max + 1
}

func (b *TableMetadataBuilder) applySetCurrentSchema(u model.Update) error {
	id := u.SchemaID
	if id == -1 {
		// "the schema just added": the highest schema-id present.
		for _, s := range b.md.Schemas {
			if s.SchemaID > id {
				id = s.SchemaID
			}
		}
	}
	if b.md.SchemaByID(id) == nil {
		return errors.Newf(ErrInvalidUpdate, "set-current-schema: schema %d does not exist", id)
	}
	b.md.CurrentSchemaID = id
	return nil
}

func (b *TableMetadataBuilder) applyAddPartitionSpec(u model.Update) error {
	if u.PartitionSpec == nil {
		return errors.New(ErrInvalidUpdate, "add-partition-spec requires a spec")
	}
	spec := *u.PartitionSpec
	if b.md.SpecByID(spec.SpecID) != nil {
		spec.SpecID = b.nextSpecID()
	}
	for _, f := range spec.Fields {
		if f.FieldID > b.md.LastPartitionID {
			b.md.LastPartitionID = f.FieldID
		}
	}
	b.md.PartitionSpecs = append(b.md.PartitionSpecs, spec)
	return nil
}

func (b *TableMetadataBuilder) nextSpecID() int {
	max := -1
	for _, s := range b.md.PartitionSpecs {
		if s.SpecID > max {
			max = s.SpecID
		}
	}
	return max + 1
}

func (b *TableMetadataBuilder) applySetDefaultSpec(u model.Update) error {
	id := u.SpecID
	if id == -1 {
		for _, s := range b.md.PartitionSpecs {
			if s.SpecID > id {
				id = s.SpecID
			}
		}
	}
	if b.md.SpecByID(id) == nil {
		return errors.Newf(ErrInvalidUpdate, "set-default-spec: spec %d does not exist", id)
	}
	b.md.DefaultSpecID = id
	return nil
}

func (b *TableMetadataBuilder) applyAddSortOrder(u model.Update) error {
	if u.SortOrder == nil {
		return errors.New(ErrInvalidUpdate, "add-sort-order requires an order")
	}
	order := *u.SortOrder
	if b.md.SortOrderByID(order.OrderID) != nil {
		order.OrderID = b.nextSortOrderID()
	}
	b.md.SortOrders = append(b.md.SortOrders, order)
	return nil
}

func (b *TableMetadataBuilder) nextSortOrderID() int {
	max := -1
	for _, s := range b.md.SortOrders {
		if s.OrderID > max {
			max = s.OrderID
		}
	}
	return max + 1
}

func (b *TableMetadataBuilder) applySetDefaultSortOrder(u model.Update) error {
	id := u.SortOrderID
	if id == -1 {
		for _, s := range b.md.SortOrders {
			if s.OrderID > id {
				id = s.OrderID
			}
		}
	}
	if id != 0 && b.md.SortOrderByID(id) == nil {
		return errors.Newf(ErrInvalidUpdate, "set-default-sort-order: order %d does not exist", id)
	}
	b.md.DefaultSortOrderID = id
	return nil
}

func (b *TableMetadataBuilder) applyAddSnapshot(u model.Update) error {
	if u.Snapshot == nil {
		return errors.New(ErrInvalidUpdate, "add-snapshot requires a snapshot")
	}
	snap := *u.Snapshot
	if snap.SequenceNumber <= b.md.LastSequenceNumber {
		// Sequence numbers across snapshots are unique and
		// monotonically increasing; a commit that would regress them is
		// rejected outright, never silently renumbered.
		return errors.Newf(ErrInvalidUpdate, "add-snapshot: sequence number %d does not advance past %d",
			snap.SequenceNumber, b.md.LastSequenceNumber)
	}
	if snap.TimestampMs <= b.md.LastUpdatedMs {
		// Rewrite snapshot timestamps on reuse (timestamp monotonicity).
		snap.TimestampMs = b.nowMs
	}
	b.md.Snapshots = append(b.md.Snapshots, snap)
	b.md.LastSequenceNumber = snap.SequenceNumber
	b.md.LastUpdatedMs = snap.TimestampMs
	return nil
}

func (b *TableMetadataBuilder) applyRemoveSnapshots(u model.Update) error {
	remove := map[int64]bool{}
	for _, id := range u.SnapshotIDs {
		remove[id] = true
	}
	kept := b.md.Snapshots[:0]
	for _, s := range b.md.Snapshots {
		if !remove[s.SnapshotID] {
			kept = append(kept, s)
		}
	}
	b.md.Snapshots = kept
	return nil
}

func (b *TableMetadataBuilder) applySetSnapshotRef(u model.Update) error {
	if b.md.SnapshotByID(u.RefSnapshotID) == nil {
		return errors.Newf(ErrInvalidUpdate, "set-snapshot-ref: snapshot %d does not exist", u.RefSnapshotID)
	}
	b.md.Refs[u.RefName] = model.Ref{
		Name:       u.RefName,
		Type:       u.RefType,
		SnapshotID: u.RefSnapshotID,
		Retention:  u.Retention,
	}
	if u.RefName == "main" {
		id := u.RefSnapshotID
		b.md.CurrentSnapshotID = &id
		b.md.SnapshotLog = append(b.md.SnapshotLog, model.SnapshotLogEntry{TimestampMs: b.nowMs, SnapshotID: id})
	}
	return nil
}

func (b *TableMetadataBuilder) applyRemoveSnapshotRef(u model.Update) error {
	delete(b.md.Refs, u.RefName)
	if u.RefName == "main" {
		b.md.CurrentSnapshotID = nil
	}
	return nil
}

func (b *TableMetadataBuilder) applySetProperties(u model.Update) error {
	for k := range u.Properties {
		if model.BlacklistedProperties[k] {
			return errors.Newf(ErrInvalidUpdate, "property %q is server-managed and cannot be set directly", k)
		}
	}
	for k, v := range u.Properties {
		b.md.Properties[k] = v
	}
	return nil
}

func (b *TableMetadataBuilder) applyRemoveProperties(u model.Update) error {
	for _, k := range u.PropertyKeys {
		delete(b.md.Properties, k)
	}
	return nil
}

func (b *TableMetadataBuilder) applyUpgradeFormatVersion(u model.Update) error {
	if u.FormatVersion < b.md.FormatVersion {
		return errors.Newf(ErrInvalidUpdate, "cannot downgrade format version %d -> %d", b.md.FormatVersion, u.FormatVersion)
	}
	b.md.FormatVersion = u.FormatVersion
	return nil
}

func (b *TableMetadataBuilder) applySetStatistics(u model.Update) error {
	if u.Statistics == nil {
		return errors.New(ErrInvalidUpdate, "set-statistics requires a statistics entry")
	}
	for i, s := range b.md.TableStatistics {
		if s.SnapshotID == u.Statistics.SnapshotID {
			b.md.TableStatistics[i] = *u.Statistics
			return nil
		}
	}
	b.md.TableStatistics = append(b.md.TableStatistics, *u.Statistics)
	return nil
}

func (b *TableMetadataBuilder) applyRemoveStatistics(u model.Update) error {
	kept := b.md.TableStatistics[:0]
	for _, s := range b.md.TableStatistics {
		if s.SnapshotID != u.StatsSnapshotID {
			kept = append(kept, s)
		}
	}
	b.md.TableStatistics = kept
	return nil
}
