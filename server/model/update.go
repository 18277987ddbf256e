package model

// UpdateKind enumerates the update actions recognized by the commit
// engine's builders (the two view-only updates sit at the end).
type UpdateKind string

const (
	UpdateAddSchema            UpdateKind = "add-schema"
	UpdateSetCurrentSchema     UpdateKind = "set-current-schema"
	UpdateAddPartitionSpec     UpdateKind = "add-partition-spec"
	UpdateSetDefaultSpec       UpdateKind = "set-default-spec"
	UpdateAddSortOrder         UpdateKind = "add-sort-order"
	UpdateSetDefaultSortOrder  UpdateKind = "set-default-sort-order"
	UpdateAddSnapshot          UpdateKind = "add-snapshot"
	UpdateRemoveSnapshots      UpdateKind = "remove-snapshots"
	UpdateSetSnapshotRef       UpdateKind = "set-snapshot-ref"
	UpdateRemoveSnapshotRef    UpdateKind = "remove-snapshot-ref"
	UpdateSetProperties        UpdateKind = "set-properties"
	UpdateRemoveProperties     UpdateKind = "remove-properties"
	UpdateSetLocation          UpdateKind = "set-location"
	UpdateUpgradeFormatVersion UpdateKind = "upgrade-format-version"
	UpdateAssignUUID           UpdateKind = "assign-uuid"
	UpdateSetStatistics        UpdateKind = "set-statistics"
	UpdateRemoveStatistics     UpdateKind = "remove-statistics"
	UpdateAddViewVersion       UpdateKind = "add-view-version"
	UpdateSetCurrentViewVersion UpdateKind = "set-current-view-version"
)

// Update is a single applied metadata mutation. Only the fields relevant
// to Kind are populated; the builder (server/commit) interprets them.
type Update struct {
	Kind UpdateKind

	Schema        *Schema        // add-schema
	LastColumnID  int            // add-schema: client's claimed last-assigned-field-id, re-validated
	SchemaID      int            // set-current-schema (-1 means "the schema just added")

	PartitionSpec *PartitionSpec // add-partition-spec
	SpecID        int            // set-default-spec (-1 means "just added")

	SortOrder     *SortOrder     // add-sort-order
	SortOrderID   int            // set-default-sort-order (-1 means "just added")

	Snapshot      *Snapshot      // add-snapshot

	SnapshotIDs   []int64        // remove-snapshots

	RefName       string         // set-snapshot-ref / remove-snapshot-ref
	RefSnapshotID int64          // set-snapshot-ref
	RefType       string         // set-snapshot-ref: branch | tag
	Retention     RetentionPolicy // set-snapshot-ref

	Properties    map[string]string // set-properties
	PropertyKeys  []string          // remove-properties

	Location      string         // set-location

	FormatVersion FormatVersion  // upgrade-format-version

	UUID          string         // assign-uuid

	Statistics    *TableStatistics // set-statistics
	PartitionStat *PartitionStatistics
	StatsSnapshotID int64        // remove-statistics

	ViewVersion   *ViewVersion   // add-view-version
	ViewVersionID int            // set-current-view-version
}

// Blacklisted table properties that a client is never permitted to set
// directly: these are server-computed.
var BlacklistedProperties = map[string]bool{
	"write.metadata.path": true,
	"write.data.path":     true,
}
