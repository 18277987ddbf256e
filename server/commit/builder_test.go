package commit

import (
	"testing"

	"github.com/gear6io/icecatalog/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptyMetadata() *model.TableMetadata {
	return model.EmptyTableMetadata("uuid-1", "s3://bucket/warehouse/table", model.FormatVersion2)
}

func TestBuilderAddSchemaAssignsID(t *testing.T) {
	pre := emptyMetadata()
	b := NewTableMetadataBuilder(pre, 1000)

	err := b.Apply(model.Update{Kind: model.UpdateAddSchema, Schema: &model.Schema{
		SchemaID: 0, Type: "struct",
		Fields: []model.NestedField{{ID: 1, Name: "id", Required: true, Type: "long"}},
	}})
	require.NoError(t, err)

	err = b.Apply(model.Update{Kind: model.UpdateSetCurrentSchema, SchemaID: -1})
	require.NoError(t, err)

	md := b.Metadata()
	assert.Equal(t, 0, md.CurrentSchemaID)
	assert.Equal(t, 1, md.LastColumnID)
}

func TestBuilderReassignsCollidingSchemaID(t *testing.T) {
	pre := emptyMetadata()
	pre.Schemas = []model.Schema{{SchemaID: 0, Type: "struct"}}
	b := NewTableMetadataBuilder(pre, 1000)

	err := b.Apply(model.Update{Kind: model.UpdateAddSchema, Schema: &model.Schema{SchemaID: 0, Type: "struct"}})
	require.NoError(t, err)

	md := b.Metadata()
	require.Len(t, md.Schemas, 2)
	assert.Equal(t, 1, md.Schemas[1].SchemaID, "colliding schema id is reassigned, not rejected")
}

func TestBuilderRejectsSnapshotSequenceRegression(t *testing.T) {
	pre := emptyMetadata()
	pre.LastSequenceNumber = 10
	b := NewTableMetadataBuilder(pre, 5000)

	err := b.Apply(model.Update{Kind: model.UpdateAddSnapshot, Snapshot: &model.Snapshot{
		SnapshotID: 1, SequenceNumber: 3, TimestampMs: 100, ManifestList: "s3://bucket/manifest-list-1",
	}})
	require.Error(t, err, "a sequence number at or below last-sequence-number is rejected, not renumbered")
	assert.Empty(t, b.Metadata().Snapshots)

	// Reusing the current value is a regression too.
	err = b.Apply(model.Update{Kind: model.UpdateAddSnapshot, Snapshot: &model.Snapshot{
		SnapshotID: 1, SequenceNumber: 10, TimestampMs: 100, ManifestList: "s3://bucket/manifest-list-1",
	}})
	require.Error(t, err)
}

func TestBuilderAdvancesSnapshotSequence(t *testing.T) {
	pre := emptyMetadata()
	pre.LastSequenceNumber = 10
	b := NewTableMetadataBuilder(pre, 5000)

	err := b.Apply(model.Update{Kind: model.UpdateAddSnapshot, Snapshot: &model.Snapshot{
		SnapshotID: 1, SequenceNumber: 11, TimestampMs: 6000, ManifestList: "s3://bucket/manifest-list-1",
	}})
	require.NoError(t, err)

	md := b.Metadata()
	require.Len(t, md.Snapshots, 1)
	assert.Equal(t, int64(11), md.LastSequenceNumber)
}

func TestBuilderRejectsFieldIDReassignment(t *testing.T) {
	pre := emptyMetadata()
	pre.Schemas = []model.Schema{{SchemaID: 0, Type: "struct", Fields: []model.NestedField{
		{ID: 1, Name: "id", Required: true, Type: "long"},
		{ID: 2, Name: "amount", Required: false, Type: "double"},
	}}}
	pre.CurrentSchemaID = 0
	pre.LastColumnID = 2
	b := NewTableMetadataBuilder(pre, 1000)

	// Field id 2 belonged to "amount"; a schema that drops it and hands
	// the id to a brand-new column is rejected.
	err := b.Apply(model.Update{Kind: model.UpdateAddSchema, Schema: &model.Schema{
		SchemaID: 1, Type: "struct", Fields: []model.NestedField{
			{ID: 1, Name: "id", Required: true, Type: "long"},
		},
	}})
	require.NoError(t, err)
	require.NoError(t, b.Apply(model.Update{Kind: model.UpdateSetCurrentSchema, SchemaID: 1}))

	err = b.Apply(model.Update{Kind: model.UpdateAddSchema, Schema: &model.Schema{
		SchemaID: 2, Type: "struct", Fields: []model.NestedField{
			{ID: 1, Name: "id", Required: true, Type: "long"},
			{ID: 2, Name: "region", Required: false, Type: "string"},
		},
	}})
	require.Error(t, err, "field id 2 was already assigned and the column is gone")
}

func TestBuilderAllowsSchemaEvolutionKeepingFieldIDs(t *testing.T) {
	pre := emptyMetadata()
	pre.Schemas = []model.Schema{{SchemaID: 0, Type: "struct", Fields: []model.NestedField{
		{ID: 1, Name: "id", Required: true, Type: "long"},
	}}}
	pre.CurrentSchemaID = 0
	pre.LastColumnID = 1
	b := NewTableMetadataBuilder(pre, 1000)

	// Renaming a current column keeps its id; new columns take fresh ids.
	err := b.Apply(model.Update{Kind: model.UpdateAddSchema, Schema: &model.Schema{
		SchemaID: 1, Type: "struct", Fields: []model.NestedField{
			{ID: 1, Name: "order_id", Required: true, Type: "long"},
			{ID: 2, Name: "amount", Required: false, Type: "double"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Metadata().LastColumnID)
}

func TestBuilderRejectsSnapshotRefToMissingSnapshot(t *testing.T) {
	pre := emptyMetadata()
	b := NewTableMetadataBuilder(pre, 1000)

	err := b.Apply(model.Update{Kind: model.UpdateSetSnapshotRef, RefName: "main", RefSnapshotID: 999, RefType: "branch"})
	assert.Error(t, err)
}

func TestBuilderRejectsBlacklistedProperty(t *testing.T) {
	pre := emptyMetadata()
	b := NewTableMetadataBuilder(pre, 1000)

	err := b.Apply(model.Update{Kind: model.UpdateSetProperties, Properties: map[string]string{"write.metadata.path": "s3://evil"}})
	assert.Error(t, err)
}

func TestBuilderFormatVersionNeverDowngrades(t *testing.T) {
	pre := emptyMetadata()
	pre.FormatVersion = model.FormatVersion2
	b := NewTableMetadataBuilder(pre, 1000)

	err := b.Apply(model.Update{Kind: model.UpdateUpgradeFormatVersion, FormatVersion: model.FormatVersion1})
	assert.Error(t, err)
}

func TestEvaluateRequirementsAssertCreate(t *testing.T) {
	pre := emptyMetadata()
	err := EvaluateRequirements([]model.Requirement{{Kind: model.RequireAssertCreate}}, pre, true)
	assert.Error(t, err, "assert-create must fail when the table already exists")

	err = EvaluateRequirements([]model.Requirement{{Kind: model.RequireAssertCreate}}, pre, false)
	assert.NoError(t, err)
}

func TestEvaluateRequirementsRefSnapshotID(t *testing.T) {
	pre := emptyMetadata()
	snapshotID := int64(42)
	pre.Refs["main"] = model.Ref{Name: "main", Type: "branch", SnapshotID: snapshotID}

	err := EvaluateRequirements([]model.Requirement{
		{Kind: model.RequireAssertRefSnapshotID, Ref: "main", SnapshotID: &snapshotID},
	}, pre, true)
	assert.NoError(t, err)

	wrong := int64(1)
	err = EvaluateRequirements([]model.Requirement{
		{Kind: model.RequireAssertRefSnapshotID, Ref: "main", SnapshotID: &wrong},
	}, pre, true)
	assert.Error(t, err)
}
