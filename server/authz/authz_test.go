package authz

import (
	"context"
	"testing"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowAllDeniesAnonymous(t *testing.T) {
	a := NewAllowAll()
	decisions, err := a.IsAllowedBatch(context.Background(), []Query{
		{Principal: Principal{ID: ""}, Action: ActionReadTableMetadata},
		{Principal: Principal{ID: "alice"}, Action: ActionReadTableMetadata},
	})
	require.NoError(t, err)
	assert.Equal(t, DenyForbidden, decisions[0])
	assert.Equal(t, Allow, decisions[1])
}

type fakeTuples struct {
	grants map[string][]Relation // key: subjectID + "|" + resourceType + "|" + resourceID
}

func (f *fakeTuples) DirectGrants(ctx context.Context, principalID string, roles []string, resource Resource) ([]Relation, error) {
	var out []Relation
	for _, subject := range append([]string{principalID}, roles...) {
		out = append(out, f.grants[subject+"|"+string(resource.Type)+"|"+resource.ID]...)
	}
	return out, nil
}

type fakeGraph struct {
	ancestors map[string][]Resource
	managed   map[string]bool
	gone      map[string]bool
}

func (f *fakeGraph) Ancestors(ctx context.Context, resource Resource) ([]Resource, error) {
	key := string(resource.Type) + "|" + resource.ID
	if f.gone[key] {
		return nil, errors.New(ErrResourceGone, "resource is not in the catalog")
	}
	return f.ancestors[key], nil
}

func (f *fakeGraph) ManagedAccess(ctx context.Context, resource Resource) (bool, error) {
	return f.managed[string(resource.Type)+"|"+resource.ID], nil
}

func TestRelationBackendDirectGrant(t *testing.T) {
	tuples := &fakeTuples{grants: map[string][]Relation{
		"alice|table|t1": {RelationViewer},
	}}
	graph := &fakeGraph{}
	b := NewRelationBackend(tuples, graph, nil)

	d, err := IsAllowed(context.Background(), b, Query{
		Principal: Principal{ID: "alice"},
		Action:    ActionReadTableMetadata,
		Resource:  Resource{Type: EntityTable, ID: "t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, d)

	d, err = IsAllowed(context.Background(), b, Query{
		Principal: Principal{ID: "alice"},
		Action:    ActionDropTable,
		Resource:  Resource{Type: EntityTable, ID: "t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, DenyForbidden, d, "viewer grant does not satisfy owner-required action")
}

func TestRelationBackendAncestorInheritance(t *testing.T) {
	tuples := &fakeTuples{grants: map[string][]Relation{
		"bob|warehouse|wh1": {RelationOwner},
	}}
	graph := &fakeGraph{
		ancestors: map[string][]Resource{
			"table|t1": {{Type: EntityWarehouse, ID: "wh1"}},
		},
	}
	b := NewRelationBackend(tuples, graph, nil)

	d, err := IsAllowed(context.Background(), b, Query{
		Principal: Principal{ID: "bob"},
		Action:    ActionCommitTable,
		Resource:  Resource{Type: EntityTable, ID: "t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, d, "warehouse-level owner grant propagates to child table")
}

func TestRelationBackendInvisibleWithoutAnyGrant(t *testing.T) {
	tuples := &fakeTuples{grants: map[string][]Relation{}}
	graph := &fakeGraph{
		ancestors: map[string][]Resource{
			"table|t1": {{Type: EntityWarehouse, ID: "wh1"}},
		},
	}
	b := NewRelationBackend(tuples, graph, nil)

	d, err := IsAllowed(context.Background(), b, Query{
		Principal: Principal{ID: "mallory"},
		Action:    ActionReadTableMetadata,
		Resource:  Resource{Type: EntityTable, ID: "t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, DenyInvisible, d, "no grant anywhere: the item is dropped from listings")
}

func TestRelationBackendAncestorGrantMakesDenyTruthful(t *testing.T) {
	tuples := &fakeTuples{grants: map[string][]Relation{
		"dave|warehouse|wh1": {RelationViewer},
	}}
	graph := &fakeGraph{
		ancestors: map[string][]Resource{
			"table|t1": {{Type: EntityWarehouse, ID: "wh1"}},
		},
	}
	b := NewRelationBackend(tuples, graph, nil)

	d, err := IsAllowed(context.Background(), b, Query{
		Principal: Principal{ID: "dave"},
		Action:    ActionDropTable,
		Resource:  Resource{Type: EntityTable, ID: "t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, DenyForbidden, d, "warehouse viewer sees the table, so forbidden is truthful")
}

func TestRelationBackendAbsentResourceVisibility(t *testing.T) {
	tuples := &fakeTuples{grants: map[string][]Relation{
		"erin|warehouse|wh1": {RelationViewer},
	}}
	graph := &fakeGraph{
		gone: map[string]bool{"table|missing": true},
		ancestors: map[string][]Resource{
			"warehouse|wh1": {{Type: EntityProject, ID: "p1"}},
		},
	}
	b := NewRelationBackend(tuples, graph, nil)

	parent := &Resource{Type: EntityWarehouse, ID: "wh1"}

	// A caller who sees the parent warehouse may learn the table is gone.
	d, err := IsAllowed(context.Background(), b, Query{
		Principal: Principal{ID: "erin"},
		Action:    ActionReadTableMetadata,
		Resource:  Resource{Type: EntityTable, ID: "missing"},
		Parent:    parent,
	})
	require.NoError(t, err)
	assert.Equal(t, DenyNotFound, d)

	// A stranger gets the uniform conceal instead.
	d, err = IsAllowed(context.Background(), b, Query{
		Principal: Principal{ID: "mallory"},
		Action:    ActionReadTableMetadata,
		Resource:  Resource{Type: EntityTable, ID: "missing"},
		Parent:    parent,
	})
	require.NoError(t, err)
	assert.Equal(t, DenyForbidden, d)

	// So does anyone when no parent was resolved.
	d, err = IsAllowed(context.Background(), b, Query{
		Principal: Principal{ID: "erin"},
		Action:    ActionReadTableMetadata,
		Resource:  Resource{Type: EntityTable, ID: "missing"},
	})
	require.NoError(t, err)
	assert.Equal(t, DenyForbidden, d)
}

func TestPolicySetFrozenProperties(t *testing.T) {
	set := &policySet{rules: []Rule{{
		Role:             "writers",
		Actions:          []Action{ActionCommitTable},
		ResourceType:     EntityTable,
		FrozenProperties: []string{"format-version", "write.metadata.compression-codec"},
	}}}

	plain := Query{
		Action:   ActionCommitTable,
		Resource: Resource{Type: EntityTable, ID: "t1"},
	}
	assert.True(t, set.allows([]string{"writers"}, plain))

	frozen := plain
	frozen.Context = map[string]string{"write.metadata.compression-codec": "gzip"}
	assert.False(t, set.allows([]string{"writers"}, frozen), "touching a frozen property voids the grant")

	removed := plain
	removed.Context = map[string]string{"format-version": ""}
	assert.False(t, set.allows([]string{"writers"}, removed), "removing a frozen property also voids it")

	other := plain
	other.Context = map[string]string{"comment": "hello"}
	assert.True(t, set.allows([]string{"writers"}, other))
}

func TestRelationBackendManagedAccessStripsLeafOwnerGrantAdmin(t *testing.T) {
	tuples := &fakeTuples{grants: map[string][]Relation{
		"carol|namespace|ns1": {RelationOwner},
	}}
	graph := &fakeGraph{
		managed:   map[string]bool{"namespace|ns1": true},
		ancestors: map[string][]Resource{"namespace|ns1": {}},
	}
	b := NewRelationBackend(tuples, graph, nil)

	d, err := IsAllowed(context.Background(), b, Query{
		Principal: Principal{ID: "carol"},
		Action:    ActionManageGrants,
		Resource:  Resource{Type: EntityNamespace, ID: "ns1"},
	})
	require.NoError(t, err)
	assert.Equal(t, DenyForbidden, d, "managed-access strips the leaf owner's grant-admin power")
}
