package commit

import (
	"context"
	"testing"

	"github.com/gear6io/icecatalog/server/authz"
	"github.com/gear6io/icecatalog/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type denyAllAuthz struct{}

func (denyAllAuthz) IsAllowedBatch(ctx context.Context, queries []authz.Query) ([]authz.Decision, error) {
	decisions := make([]authz.Decision, len(queries))
	for i := range queries {
		decisions[i] = authz.DenyForbidden
	}
	return decisions, nil
}

type allowAllAuthz struct{}

func (allowAllAuthz) IsAllowedBatch(ctx context.Context, queries []authz.Query) ([]authz.Decision, error) {
	decisions := make([]authz.Decision, len(queries))
	for i := range queries {
		decisions[i] = authz.Allow
	}
	return decisions, nil
}

func TestEngineUpdateTableDeniedByAuthz(t *testing.T) {
	e := NewEngine(Options{Authz: denyAllAuthz{}})
	_, err := e.UpdateTable(context.Background(), UpdateTableInput{
		TabularID: "tbl-1",
		Principal: authz.Principal{ID: "user-1"},
	})
	require.Error(t, err)
}

func TestEngineLoadTableDeniedByAuthz(t *testing.T) {
	e := NewEngine(Options{Authz: denyAllAuthz{}})
	_, err := e.LoadTable(context.Background(), "tbl-1", authz.Principal{ID: "user-1"})
	assert.Error(t, err)
}

func TestEngineDropTableDeniedByAuthz(t *testing.T) {
	e := NewEngine(Options{Authz: denyAllAuthz{}})
	err := e.DropTable(context.Background(), DropTableInput{
		TabularID: "tbl-1", WarehouseID: "wh-1",
		Principal: authz.Principal{ID: "user-1"},
	})
	require.Error(t, err)
}

func TestPropertyDelta(t *testing.T) {
	assert.Nil(t, propertyDelta(nil))
	assert.Nil(t, propertyDelta([]model.Update{{Kind: model.UpdateSetLocation, Location: "s3://b/x"}}))

	delta := propertyDelta([]model.Update{
		{Kind: model.UpdateSetProperties, Properties: map[string]string{"comment": "orders", "owner": "etl"}},
		{Kind: model.UpdateRemoveProperties, PropertyKeys: []string{"deprecated"}},
	})
	assert.Equal(t, map[string]string{"comment": "orders", "owner": "etl", "deprecated": ""}, delta)
}

func TestEngineDefaultsMetadataLogCap(t *testing.T) {
	e := NewEngine(Options{Authz: allowAllAuthz{}})
	assert.Equal(t, 100, e.metadataLogCap)
}

func TestEngineHonorsConfiguredMetadataLogCap(t *testing.T) {
	e := NewEngine(Options{Authz: allowAllAuthz{}, MetadataLogCap: 5})
	assert.Equal(t, 5, e.metadataLogCap)
}
