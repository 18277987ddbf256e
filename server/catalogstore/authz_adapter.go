package catalogstore

import (
	"context"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/authz"
	"github.com/uptrace/bun"
)

// AuthzAdapter implements authz.TupleStore and authz.ResourceGraph over
// the catalog store's grant_tuple rows and entity hierarchy, so the
// relation-based Authorization Engine backend can run its reachability
// queries without depending on this package's concrete types directly.
type AuthzAdapter struct {
	store *Store
}

func NewAuthzAdapter(store *Store) *AuthzAdapter {
	return &AuthzAdapter{store: store}
}

func (a *AuthzAdapter) DirectGrants(ctx context.Context, principalID string, roles []string, resource authz.Resource) ([]authz.Relation, error) {
	subjectIDs := append([]string{principalID}, roles...)
	var rows []Grant
	err := a.store.read.NewSelect().Model(&rows).
		Where("object_type = ? AND object_id = ? AND subject_id IN (?)", string(resource.Type), resource.ID, bun.In(subjectIDs)).
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.CommonInternal, err, "failed to load grant tuples")
	}
	out := make([]authz.Relation, 0, len(rows))
	for _, r := range rows {
		out = append(out, authz.Relation(r.Relation))
	}
	return out, nil
}

// asGraphLookup projects a store lookup failure onto the graph
// contract: an absent row becomes ErrResourceGone so the relation
// backend can apply its visibility policy instead of failing the query.
func asGraphLookup(err error) error {
	if IsNotFound(err) {
		return errors.Wrap(authz.ErrResourceGone, err, "resource is not in the catalog")
	}
	return err
}

func (a *AuthzAdapter) Ancestors(ctx context.Context, resource authz.Resource) ([]authz.Resource, error) {
	var chain []authz.Resource
	switch resource.Type {
	case authz.EntityTable, authz.EntityView:
		t, err := a.store.GetTabular(ctx, resource.ID)
		if err != nil {
			return nil, asGraphLookup(err)
		}
		ns, err := a.store.GetNamespace(ctx, t.NamespaceID)
		if err != nil {
			return nil, asGraphLookup(err)
		}
		chain = append(chain, authz.Resource{Type: authz.EntityNamespace, ID: ns.ID})
		wh, err := a.store.GetWarehouse(ctx, ns.WarehouseID)
		if err != nil {
			return nil, asGraphLookup(err)
		}
		chain = append(chain, authz.Resource{Type: authz.EntityWarehouse, ID: wh.ID})
		chain = append(chain, authz.Resource{Type: authz.EntityProject, ID: wh.ProjectID})
	case authz.EntityNamespace:
		ns, err := a.store.GetNamespace(ctx, resource.ID)
		if err != nil {
			return nil, asGraphLookup(err)
		}
		wh, err := a.store.GetWarehouse(ctx, ns.WarehouseID)
		if err != nil {
			return nil, asGraphLookup(err)
		}
		chain = append(chain, authz.Resource{Type: authz.EntityWarehouse, ID: wh.ID})
		chain = append(chain, authz.Resource{Type: authz.EntityProject, ID: wh.ProjectID})
	case authz.EntityWarehouse:
		wh, err := a.store.GetWarehouse(ctx, resource.ID)
		if err != nil {
			return nil, asGraphLookup(err)
		}
		chain = append(chain, authz.Resource{Type: authz.EntityProject, ID: wh.ProjectID})
	}
	return chain, nil
}

func (a *AuthzAdapter) ManagedAccess(ctx context.Context, resource authz.Resource) (bool, error) {
	switch resource.Type {
	case authz.EntityNamespace:
		ns, err := a.store.GetNamespace(ctx, resource.ID)
		if err != nil {
			return false, err
		}
		return ns.ManagedAccess, nil
	case authz.EntityTable, authz.EntityView:
		t, err := a.store.GetTabular(ctx, resource.ID)
		if err != nil {
			return false, err
		}
		ns, err := a.store.GetNamespace(ctx, t.NamespaceID)
		if err != nil {
			return false, err
		}
		return ns.ManagedAccess, nil
	default:
		return false, nil
	}
}

// WriteAuditEvent persists one authorization decision to the audit_event
// relation so past decisions are listable from the management API.
func (a *AuthzAdapter) WriteAuditEvent(ctx context.Context, actorID string, q authz.Query, decision authz.Decision) error {
	_, err := a.store.write.NewInsert().Model(&AuditEvent{
		ActorID:    actorID,
		Action:     string(q.Action),
		ObjectType: string(q.Resource.Type),
		ObjectID:   q.Resource.ID,
		Decision:   string(decision),
	}).Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to write audit event")
	}
	return nil
}
