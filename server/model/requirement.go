package model

// Requirement is a precondition evaluated against the pre-image of a
// commit; if false the commit aborts with Conflict before any
// update is applied.
type RequirementKind string

const (
	RequireAssertCreate                 RequirementKind = "assert-create"
	RequireAssertTableUUID              RequirementKind = "assert-table-uuid"
	RequireAssertRefSnapshotID          RequirementKind = "assert-ref-snapshot-id"
	RequireAssertLastAssignedFieldID    RequirementKind = "assert-last-assigned-field-id"
	RequireAssertCurrentSchemaID        RequirementKind = "assert-current-schema-id"
	RequireAssertLastAssignedPartitionID RequirementKind = "assert-last-assigned-partition-id"
	RequireAssertDefaultSpecID          RequirementKind = "assert-default-spec-id"
	RequireAssertDefaultSortOrderID     RequirementKind = "assert-default-sort-order-id"
)

type Requirement struct {
	Kind RequirementKind

	TableUUID string // assert-table-uuid
	Ref       string // assert-ref-snapshot-id
	SnapshotID *int64 // assert-ref-snapshot-id; nil means "ref must be absent"
	IntValue  int    // assert-last-assigned-field-id / current-schema-id / last-assigned-partition-id / default-spec-id / default-sort-order-id
}
