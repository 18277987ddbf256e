package authz

import (
	"context"

	"github.com/gear6io/icecatalog/pkg/errors"
)

// ErrResourceGone is the code a ResourceGraph wraps its lookup failures
// in when the queried resource is not in the catalog at all, so the
// backend can distinguish "absent" from "lookup broke".
var ErrResourceGone = errors.MustNewCode("authz.resource_gone")

// Relation is one edge label in the authorization graph: either a
// grant (principal -> resource) or a parent edge (resource -> parent).
type Relation string

const (
	RelationOwner  Relation = "owner"
	RelationEditor Relation = "editor"
	RelationViewer Relation = "viewer"
)

// relationRank lets "requires viewer" be satisfied by editor or owner,
// mirroring the usual owner ⊃ editor ⊃ viewer capability ordering.
var relationRank = map[Relation]int{
	RelationViewer: 1,
	RelationEditor: 2,
	RelationOwner:  3,
}

func satisfies(held, required Relation) bool {
	return relationRank[held] >= relationRank[required]
}

// requiredRelation maps each action onto the minimum relation a
// principal must hold, directly or via an ancestor (top-down
// inheritance).
func requiredRelation(a Action) Relation {
	switch a {
	case ActionReadTableMetadata, ActionReadViewMetadata, ActionReadTableData, ActionListNamespace:
		return RelationViewer
	case ActionWriteTableData, ActionCommitTable, ActionCommitView, ActionCreateNamespace:
		return RelationEditor
	case ActionDropTable, ActionDropView, ActionDropNamespace, ActionManageGrants:
		return RelationOwner
	default:
		return RelationOwner
	}
}

// TupleStore is the grant tuple store the relation backend queries: one
// row per (subject, relation, object). Implementations back this with
// the catalog store's grant_tuple relation.
type TupleStore interface {
	// DirectGrants returns the distinct relations held directly by
	// principal (by user id or by any of its roles) on resource.
	DirectGrants(ctx context.Context, principalID string, roles []string, resource Resource) ([]Relation, error)
}

// ResourceGraph resolves a resource's ancestor chain, root-most last
// (e.g. table -> namespace -> warehouse -> project), and whether a
// resource has managed-access enabled (strips grant-admin power from
// leaf owners).
type ResourceGraph interface {
	Ancestors(ctx context.Context, resource Resource) ([]Resource, error)
	ManagedAccess(ctx context.Context, resource Resource) (bool, error)
}

// RelationBackend implements the relation-based Authorization Engine
// backend: tuple store + graph reachability, with top-down inheritance
// and a managed-access flag that strips leaf-owner grant-admin power.
type RelationBackend struct {
	tuples TupleStore
	graph  ResourceGraph
	audit  func(ctx context.Context, q Query, decision Decision)
}

func NewRelationBackend(tuples TupleStore, graph ResourceGraph, audit func(context.Context, Query, Decision)) *RelationBackend {
	return &RelationBackend{tuples: tuples, graph: graph, audit: audit}
}

func (b *RelationBackend) IsAllowedBatch(ctx context.Context, queries []Query) ([]Decision, error) {
	decisions := make([]Decision, len(queries))
	for i, q := range queries {
		d, err := b.evaluate(ctx, q)
		if err != nil {
			return nil, err
		}
		decisions[i] = d
		if b.audit != nil {
			b.audit(ctx, q, d)
		}
	}
	return decisions, nil
}

func (b *RelationBackend) evaluate(ctx context.Context, q Query) (Decision, error) {
	required := requiredRelation(q.Action)

	ancestors, err := b.graph.Ancestors(ctx, q.Resource)
	if err != nil {
		if errors.GetCode(err) == ErrResourceGone.String() {
			return b.evaluateAbsent(ctx, q)
		}
		return DenyInternal, err
	}

	if q.Action == ActionManageGrants {
		managed, err := b.graph.ManagedAccess(ctx, q.Resource)
		if err != nil {
			return DenyInternal, err
		}
		if managed {
			// Managed-access strips leaf-owner grant-admin power:
			// only an ancestor-held owner grant authorizes this.
			return b.evaluateAncestorsOnly(ctx, q, ancestors, RelationOwner)
		}
	}

	held, err := b.tuples.DirectGrants(ctx, q.Principal.ID, q.Principal.Roles, q.Resource)
	if err != nil {
		return DenyInternal, err
	}
	visible := len(held) > 0
	for _, r := range held {
		if satisfies(r, required) {
			return Allow, nil
		}
	}

	// Top-down inheritance, and in the same pass, whether the caller
	// holds any navigational grant on an ancestor at all.
	navigational := false
	for _, anc := range ancestors {
		held, err := b.tuples.DirectGrants(ctx, q.Principal.ID, q.Principal.Roles, anc)
		if err != nil {
			return DenyInternal, err
		}
		if len(held) > 0 {
			navigational = true
		}
		for _, r := range held {
			if satisfies(r, required) {
				return Allow, nil
			}
		}
	}

	if navigational || visible {
		// The caller already sees this resource (directly or through an
		// ancestor); the forbidden answer is truthful, not a conceal.
		return DenyForbidden, nil
	}
	// DenyInvisible marks an existing resource the caller holds nothing
	// on: list filtering drops the item, the HTTP edge still answers
	// Forbidden.
	return DenyInvisible, nil
}

// evaluateAbsent applies the visibility policy to a resource that is
// not in the catalog: only a caller who already sees the resolved
// parent (or one of its ancestors) may learn it does not exist;
// everyone else gets the uniform conceal.
func (b *RelationBackend) evaluateAbsent(ctx context.Context, q Query) (Decision, error) {
	if q.Parent == nil {
		return DenyForbidden, nil
	}
	scope := []Resource{*q.Parent}
	parentAncestors, err := b.graph.Ancestors(ctx, *q.Parent)
	if err != nil {
		if errors.GetCode(err) == ErrResourceGone.String() {
			return DenyForbidden, nil
		}
		return DenyInternal, err
	}
	scope = append(scope, parentAncestors...)

	for _, res := range scope {
		held, err := b.tuples.DirectGrants(ctx, q.Principal.ID, q.Principal.Roles, res)
		if err != nil {
			return DenyInternal, err
		}
		if len(held) > 0 {
			return DenyNotFound, nil
		}
	}
	return DenyForbidden, nil
}

func (b *RelationBackend) evaluateAncestorsOnly(ctx context.Context, q Query, ancestors []Resource, required Relation) (Decision, error) {
	for _, anc := range ancestors {
		held, err := b.tuples.DirectGrants(ctx, q.Principal.ID, q.Principal.Roles, anc)
		if err != nil {
			return DenyInternal, err
		}
		for _, r := range held {
			if satisfies(r, required) {
				return Allow, nil
			}
		}
	}
	return DenyForbidden, nil
}
