// Package authz is the Authorization Engine: given a principal,
// action, and resource, decide allow or deny, with a batch contract so
// list operations never degenerate into N round-trips.
package authz

import "context"

// Decision is the outcome of one authorization query. The deny
// variants carry the visibility policy: DenyForbidden is the uniform
// conceal, DenyNotFound reveals nonexistence to a caller who already
// holds a navigational grant on an ancestor, DenyInvisible marks an
// existing resource the caller holds nothing on (list filtering drops
// such items; the HTTP edge still answers Forbidden), and DenyInternal
// reports a backend failure.
type Decision string

const (
	Allow          Decision = "allow"
	DenyForbidden  Decision = "deny-forbidden"
	DenyNotFound   Decision = "deny-not-found"
	DenyInvisible  Decision = "deny-invisible"
	DenyInternal   Decision = "internal-error"
)

// EntityType enumerates the node types in the authorization graph.
type EntityType string

const (
	EntityServer    EntityType = "server"
	EntityProject   EntityType = "project"
	EntityWarehouse EntityType = "warehouse"
	EntityNamespace EntityType = "namespace"
	EntityTable     EntityType = "table"
	EntityView      EntityType = "view"
	EntityRole      EntityType = "role"
)

// Action enumerates the operations the commit engine, storage broker,
// and management API request decisions for.
type Action string

const (
	ActionCommitTable     Action = "CommitTable"
	ActionCommitView      Action = "CommitView"
	ActionReadTableMetadata Action = "ReadTableMetadata"
	ActionReadViewMetadata  Action = "ReadViewMetadata"
	ActionDropTable       Action = "DropTable"
	ActionDropView        Action = "DropView"
	ActionReadTableData   Action = "ReadTableData"
	ActionWriteTableData  Action = "WriteTableData"
	ActionCreateNamespace Action = "CreateNamespace"
	ActionDropNamespace   Action = "DropNamespace"
	ActionListNamespace   Action = "ListNamespace"
	ActionManageGrants    Action = "ManageGrants"
)

// Principal identifies the caller making the request.
type Principal struct {
	ID    string
	Roles []string
}

// Resource is one entity an authorization query is evaluated against.
type Resource struct {
	Type EntityType
	ID   string
}

// Query is one (principal, action, resource, context) tuple. For
// commit actions, Context carries the proposed property delta (set
// keys map to their new value, removed keys to ""); attribute-aware
// backends match rules against it, the others ignore it.
type Query struct {
	Principal Principal
	Action    Action
	Resource  Resource

	// Parent optionally names the resolved parent of Resource, set by
	// callers that addressed the resource through its path. When
	// Resource itself is absent from the catalog, the backend decides
	// not-found visibility against Parent and its ancestors.
	Parent *Resource

	Context map[string]string
}

// Authorizer is the pluggable contract every backend (allowall,
// relation, policy) implements.
type Authorizer interface {
	// IsAllowedBatch returns one Decision per Query, in input order.
	IsAllowedBatch(ctx context.Context, queries []Query) ([]Decision, error)
}

// IsAllowed is a convenience wrapper over IsAllowedBatch for the common
// single-query case.
func IsAllowed(ctx context.Context, a Authorizer, q Query) (Decision, error) {
	decisions, err := a.IsAllowedBatch(ctx, []Query{q})
	if err != nil {
		return DenyInternal, err
	}
	if len(decisions) != 1 {
		return DenyInternal, nil
	}
	return decisions[0], nil
}
