package model

// FormatVersion is the Iceberg table-format-version a TableMetadata is
// written as; the catalog core supports both 1 and 2 (v2 adds row-lineage
// fields NextRowID).
type FormatVersion int

const (
	FormatVersion1 FormatVersion = 1
	FormatVersion2 FormatVersion = 2
)

// TableMetadata is the in-memory value rebuilt by the catalog store's
// load-metadata query and mutated exclusively inside one
// commit transaction.
type TableMetadata struct {
	TableUUID        string
	FormatVersion    FormatVersion
	Location         string
	LastSequenceNumber int64
	LastUpdatedMs    int64
	LastColumnID     int
	LastPartitionID  int
	NextRowID        int64

	Schemas          []Schema
	CurrentSchemaID  int

	PartitionSpecs   []PartitionSpec
	DefaultSpecID    int

	SortOrders       []SortOrder
	DefaultSortOrderID int

	Snapshots        []Snapshot
	CurrentSnapshotID *int64
	SnapshotLog      []SnapshotLogEntry
	MetadataLog      []MetadataLogEntry

	Refs             map[string]Ref

	Properties       map[string]string

	TableStatistics     []TableStatistics
	PartitionStatistics []PartitionStatistics

	MetadataFileLocation string
}

// EmptyTableMetadata constructs the starting metadata for a staged/about-to-be-created
// table("construct the empty starting metadata for
// the declared format-version").
func EmptyTableMetadata(tableUUID, location string, formatVersion FormatVersion) *TableMetadata {
	return &TableMetadata{
		TableUUID:          tableUUID,
		FormatVersion:      formatVersion,
		Location:           location,
		LastSequenceNumber: 0,
		CurrentSchemaID:    -1,
		DefaultSpecID:      0,
		DefaultSortOrderID: 0,
		Refs:               map[string]Ref{},
		Properties:         map[string]string{},
	}
}

// CurrentSchema returns the schema named by CurrentSchemaID, or nil if
// none has been set yet (a staged table before its first commit).
func (m *TableMetadata) CurrentSchema() *Schema {
	for i := range m.Schemas {
		if m.Schemas[i].SchemaID == m.CurrentSchemaID {
			return &m.Schemas[i]
		}
	}
	return nil
}

func (m *TableMetadata) SchemaByID(id int) *Schema {
	for i := range m.Schemas {
		if m.Schemas[i].SchemaID == id {
			return &m.Schemas[i]
		}
	}
	return nil
}

func (m *TableMetadata) SpecByID(id int) *PartitionSpec {
	for i := range m.PartitionSpecs {
		if m.PartitionSpecs[i].SpecID == id {
			return &m.PartitionSpecs[i]
		}
	}
	return nil
}

func (m *TableMetadata) SortOrderByID(id int) *SortOrder {
	for i := range m.SortOrders {
		if m.SortOrders[i].OrderID == id {
			return &m.SortOrders[i]
		}
	}
	return nil
}

func (m *TableMetadata) SnapshotByID(id int64) *Snapshot {
	for i := range m.Snapshots {
		if m.Snapshots[i].SnapshotID == id {
			return &m.Snapshots[i]
		}
	}
	return nil
}

// Clone returns a deep-enough copy for a builder to mutate without
// disturbing the pre-image used for requirement evaluation.
func (m *TableMetadata) Clone() *TableMetadata {
	c := *m
	c.Schemas = append([]Schema(nil), m.Schemas...)
	c.PartitionSpecs = append([]PartitionSpec(nil), m.PartitionSpecs...)
	c.SortOrders = append([]SortOrder(nil), m.SortOrders...)
	c.Snapshots = append([]Snapshot(nil), m.Snapshots...)
	c.SnapshotLog = append([]SnapshotLogEntry(nil), m.SnapshotLog...)
	c.MetadataLog = append([]MetadataLogEntry(nil), m.MetadataLog...)
	c.TableStatistics = append([]TableStatistics(nil), m.TableStatistics...)
	c.PartitionStatistics = append([]PartitionStatistics(nil), m.PartitionStatistics...)
	c.Refs = make(map[string]Ref, len(m.Refs))
	for k, v := range m.Refs {
		c.Refs[k] = v
	}
	c.Properties = make(map[string]string, len(m.Properties))
	for k, v := range m.Properties {
		c.Properties[k] = v
	}
	return &c
}

// ViewVersion is one historical definition of a view (the view analogue
// of a table snapshot).
type ViewVersion struct {
	VersionID       int               `json:"version-id"`
	SchemaID        int               `json:"schema-id"`
	TimestampMs     int64             `json:"timestamp-ms"`
	Summary         map[string]string `json:"summary"`
	Representations []ViewRepresentation `json:"representations"`
	DefaultCatalog  string            `json:"default-catalog,omitempty"`
	DefaultNamespace []string         `json:"default-namespace,omitempty"`
}

type ViewRepresentation struct {
	Type    string `json:"type"` // "sql"
	SQL     string `json:"sql"`
	Dialect string `json:"dialect"`
}

// ViewMetadata mirrors TableMetadata's role for views: decomposed rows
// reassembled by the catalog store, mutated only inside one commit.
type ViewMetadata struct {
	ViewUUID          string
	Location          string
	Schemas           []Schema
	Versions          []ViewVersion
	CurrentVersionID  int
	VersionLog        []SnapshotLogEntry // reused shape: timestamp -> version id
	Properties        map[string]string
	MetadataFileLocation string
}

func EmptyViewMetadata(viewUUID, location string) *ViewMetadata {
	return &ViewMetadata{
		ViewUUID:         viewUUID,
		Location:         location,
		CurrentVersionID: -1,
		Properties:       map[string]string{},
	}
}
