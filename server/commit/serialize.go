package commit

import (
	"encoding/json"

	"github.com/gear6io/icecatalog/server/model"
)

// wireMetadata mirrors the Iceberg table-metadata.json document (spec
// §6: "Request/response shapes follow the upstream OpenAPI document
// verbatim"). model.TableMetadata itself carries no json tags since it
// is also the in-memory builder target; this type is the serialization
// boundary.
type wireMetadata struct {
	FormatVersion      int                       `json:"format-version"`
	TableUUID          string                    `json:"table-uuid"`
	Location           string                    `json:"location"`
	LastSequenceNumber int64                      `json:"last-sequence-number"`
	LastUpdatedMs      int64                      `json:"last-updated-ms"`
	LastColumnID       int                        `json:"last-column-id"`
	Schemas            []model.Schema             `json:"schemas"`
	CurrentSchemaID    int                        `json:"current-schema-id"`
	PartitionSpecs     []model.PartitionSpec       `json:"partition-specs"`
	DefaultSpecID      int                        `json:"default-spec-id"`
	LastPartitionID    int                        `json:"last-partition-id"`
	SortOrders         []model.SortOrder           `json:"sort-orders"`
	DefaultSortOrderID int                        `json:"default-sort-order-id"`
	Properties         map[string]string          `json:"properties,omitempty"`
	CurrentSnapshotID  *int64                     `json:"current-snapshot-id,omitempty"`
	Snapshots          []model.Snapshot            `json:"snapshots,omitempty"`
	SnapshotLog        []model.SnapshotLogEntry    `json:"snapshot-log,omitempty"`
	MetadataLog        []model.MetadataLogEntry    `json:"metadata-log,omitempty"`
	Refs               map[string]model.Ref        `json:"refs,omitempty"`
	NextRowID          int64                      `json:"next-row-id,omitempty"`
	Statistics         []model.TableStatistics     `json:"statistics,omitempty"`
	PartitionStatistics []model.PartitionStatistics `json:"partition-statistics,omitempty"`
}

func marshalMetadata(md *model.TableMetadata) ([]byte, error) {
	w := wireMetadata{
		FormatVersion:      int(md.FormatVersion),
		TableUUID:          md.TableUUID,
		Location:           md.Location,
		LastSequenceNumber: md.LastSequenceNumber,
		LastUpdatedMs:      md.LastUpdatedMs,
		LastColumnID:       md.LastColumnID,
		Schemas:            md.Schemas,
		CurrentSchemaID:    md.CurrentSchemaID,
		PartitionSpecs:     md.PartitionSpecs,
		DefaultSpecID:      md.DefaultSpecID,
		LastPartitionID:    md.LastPartitionID,
		SortOrders:         md.SortOrders,
		DefaultSortOrderID: md.DefaultSortOrderID,
		Properties:         md.Properties,
		CurrentSnapshotID:  md.CurrentSnapshotID,
		Snapshots:          md.Snapshots,
		SnapshotLog:        md.SnapshotLog,
		MetadataLog:        md.MetadataLog,
		Refs:               md.Refs,
		NextRowID:          md.NextRowID,
		Statistics:         md.TableStatistics,
		PartitionStatistics: md.PartitionStatistics,
	}
	return json.MarshalIndent(w, "", "  ")
}
