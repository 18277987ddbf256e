package model

// Snapshot is an immutable pointer to a manifest-list, one row in the
// `snapshot` relation, forming an append-only DAG via
// ParentSnapshotID (adjacency rows, child -> parent; deletion never
// cascades upward so no cycle elimination is needed).
type Snapshot struct {
	SnapshotID       int64          `json:"snapshot-id"`
	ParentSnapshotID *int64         `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64          `json:"sequence-number"`
	TimestampMs      int64          `json:"timestamp-ms"`
	ManifestList     string         `json:"manifest-list"`
	Summary          map[string]string `json:"summary"`
	SchemaID         *int           `json:"schema-id,omitempty"`
}

// SnapshotLogEntry is one append-only row recording when a snapshot became
// current, ordered by TimestampMs.
type SnapshotLogEntry struct {
	TimestampMs int64 `json:"timestamp-ms"`
	SnapshotID  int64 `json:"snapshot-id"`
}

// MetadataLogEntry is one historical metadata-file URI, always appended to on every persisted commit.
type MetadataLogEntry struct {
	TimestampMs  int64  `json:"timestamp-ms"`
	MetadataFile string `json:"metadata-file"`
}

// RetentionPolicy governs how long a Ref keeps its referenced snapshot (and
// any ancestors) reachable from expiration.
type RetentionPolicy struct {
	MinSnapshotsToKeep int `json:"min-snapshots-to-keep,omitempty"`
	MaxSnapshotAgeMs   int64 `json:"max-snapshot-age-ms,omitempty"`
	MaxRefAgeMs        int64 `json:"max-ref-age-ms,omitempty"`
}

// Ref is a named pointer to a snapshot, e.g. "main".
type Ref struct {
	Name       string `json:"-"`
	Type       string `json:"type"` // branch | tag
	SnapshotID int64  `json:"snapshot-id"`
	Retention  RetentionPolicy `json:"retention,omitempty"`
}

// TableStatistics and PartitionStatistics are keyed by the snapshot they
// describe.
type TableStatistics struct {
	SnapshotID    int64  `json:"snapshot-id"`
	StatisticsPath string `json:"statistics-path"`
	FileSizeBytes int64  `json:"file-size-in-bytes"`
	FileFooterSizeBytes int64 `json:"file-footer-size-in-bytes"`
}

type PartitionStatistics struct {
	SnapshotID     int64  `json:"snapshot-id"`
	StatisticsPath string `json:"statistics-path"`
	FileSizeBytes  int64  `json:"file-size-in-bytes"`
}
