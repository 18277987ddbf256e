package commit

import (
	"context"
	"testing"

	"github.com/gear6io/icecatalog/server/authz"
	"github.com/gear6io/icecatalog/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViewPre() *model.ViewMetadata {
	pre := model.EmptyViewMetadata("view-uuid-1", "s3://b/wh/ns/v1")
	pre.Schemas = []model.Schema{{SchemaID: 0, Fields: []model.NestedField{{ID: 1, Name: "id", Type: "int", Required: true}}}}
	return pre
}

func TestViewBuilderAddVersion(t *testing.T) {
	b := NewViewMetadataBuilder(newViewPre(), 1000)

	err := b.Apply(model.Update{Kind: model.UpdateAddViewVersion, ViewVersion: &model.ViewVersion{
		VersionID: 1,
		SchemaID:  0,
		Representations: []model.ViewRepresentation{
			{Type: "sql", SQL: "SELECT id FROM base", Dialect: "spark"},
		},
	}})
	require.NoError(t, err)
	require.NoError(t, b.Apply(model.Update{Kind: model.UpdateSetCurrentViewVersion, ViewVersionID: -1}))

	md := b.Metadata()
	assert.Equal(t, 1, md.CurrentVersionID)
	require.Len(t, md.Versions, 1)
	assert.Equal(t, int64(1000), md.Versions[0].TimestampMs, "missing timestamp is stamped")
	require.Len(t, md.VersionLog, 1)
	assert.Equal(t, int64(1), md.VersionLog[0].SnapshotID)
}

func TestViewBuilderReassignsCollidingVersionID(t *testing.T) {
	pre := newViewPre()
	pre.Versions = []model.ViewVersion{{VersionID: 1, SchemaID: 0, TimestampMs: 5}}
	b := NewViewMetadataBuilder(pre, 1000)

	require.NoError(t, b.Apply(model.Update{Kind: model.UpdateAddViewVersion, ViewVersion: &model.ViewVersion{VersionID: 1, SchemaID: 0}}))

	md := b.Metadata()
	require.Len(t, md.Versions, 2)
	assert.Equal(t, 2, md.Versions[1].VersionID)
}

func TestViewBuilderRejectsVersionWithMissingSchema(t *testing.T) {
	b := NewViewMetadataBuilder(newViewPre(), 1000)
	err := b.Apply(model.Update{Kind: model.UpdateAddViewVersion, ViewVersion: &model.ViewVersion{VersionID: 1, SchemaID: 42}})
	require.Error(t, err)
}

func TestViewBuilderRejectsCurrentVersionThatDoesNotExist(t *testing.T) {
	b := NewViewMetadataBuilder(newViewPre(), 1000)
	err := b.Apply(model.Update{Kind: model.UpdateSetCurrentViewVersion, ViewVersionID: 7})
	require.Error(t, err)
}

func TestViewBuilderRejectsTableOnlyUpdates(t *testing.T) {
	b := NewViewMetadataBuilder(newViewPre(), 1000)
	for _, kind := range []model.UpdateKind{
		model.UpdateAddSnapshot,
		model.UpdateSetSnapshotRef,
		model.UpdateUpgradeFormatVersion,
	} {
		err := b.Apply(model.Update{Kind: kind})
		require.Error(t, err, string(kind))
	}
}

func TestViewBuilderDoesNotMutatePreImage(t *testing.T) {
	pre := newViewPre()
	b := NewViewMetadataBuilder(pre, 1000)
	require.NoError(t, b.Apply(model.Update{Kind: model.UpdateSetProperties, Properties: map[string]string{"comment": "x"}}))
	require.NoError(t, b.Apply(model.Update{Kind: model.UpdateAddViewVersion, ViewVersion: &model.ViewVersion{VersionID: 1, SchemaID: 0}}))

	assert.Empty(t, pre.Properties)
	assert.Empty(t, pre.Versions)
	assert.Equal(t, "x", b.Metadata().Properties["comment"])
}

func TestEngineUpdateViewDeniedByAuthz(t *testing.T) {
	e := NewEngine(Options{Authz: denyAllAuthz{}})
	_, err := e.UpdateView(context.Background(), UpdateViewInput{
		TabularID: "view-1",
		Principal: authz.Principal{ID: "user-1"},
	})
	require.Error(t, err)
}

func TestEngineDropViewDeniedByAuthz(t *testing.T) {
	e := NewEngine(Options{Authz: denyAllAuthz{}})
	err := e.DropView(context.Background(), DropTableInput{
		TabularID: "view-1", WarehouseID: "wh-1",
		Principal: authz.Principal{ID: "user-1"},
	})
	require.Error(t, err)
}

func TestEngineStageTableDeniedByAuthz(t *testing.T) {
	e := NewEngine(Options{Authz: denyAllAuthz{}})
	_, err := e.StageTable(context.Background(), StageTableInput{
		NamespaceID: "ns-1", Name: "orders", Kind: "table",
		Principal: authz.Principal{ID: "user-1"},
	})
	require.Error(t, err)
}

func TestMarshalViewMetadataShape(t *testing.T) {
	b := NewViewMetadataBuilder(newViewPre(), 1000)
	require.NoError(t, b.Apply(model.Update{Kind: model.UpdateAddViewVersion, ViewVersion: &model.ViewVersion{VersionID: 1, SchemaID: 0}}))
	require.NoError(t, b.Apply(model.Update{Kind: model.UpdateSetCurrentViewVersion, ViewVersionID: 1}))

	body, err := marshalViewMetadata(b.Metadata())
	require.NoError(t, err)
	assert.Contains(t, string(body), `"view-uuid":"view-uuid-1"`)
	assert.Contains(t, string(body), `"current-version-id":1`)
}
