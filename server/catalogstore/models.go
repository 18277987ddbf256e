// Package catalogstore is the Catalog Store: durable transactional
// storage for every entity in the server/project/warehouse/namespace/
// tabular hierarchy, plus the decomposed Iceberg metadata relations that
// back load-metadata and persist-metadata-delta.
package catalogstore

import (
	"time"

	"github.com/uptrace/bun"
)

// TimeAuditable is the embeddable created/updated pair every durable
// row carries.
type TimeAuditable struct {
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Project is the tenant boundary directly below the server root.
type Project struct {
	bun.BaseModel `bun:"table:project"`

	ID   string `bun:"id,pk"`
	Name string `bun:"name,notnull,unique"`

	TimeAuditable
}

// StorageProfile is the bucket/container + flavor a warehouse writes to.
// Stored inline on the warehouse row rather than a separate table: a
// warehouse owns exactly one profile for its lifetime.
type StorageProfile struct {
	Flavor       string `bun:"storage_flavor,notnull"` // s3 | adls2 | gcs
	Bucket       string `bun:"storage_bucket,notnull"`
	Prefix       string `bun:"storage_prefix,notnull"`
	Region       string `bun:"storage_region"`
	Endpoint     string `bun:"storage_endpoint"`
	AccountName  string `bun:"storage_account_name"` // adls2
	PathStyle    bool   `bun:"storage_path_style"`   // s3-compatible non-AWS endpoints
	CredentialRef string `bun:"credential_ref,notnull"` // key into the secrets store
}

// Warehouse owns a storage profile and carries the flags that govern
// vended-credentials / remote-signing and soft-delete behavior.
type Warehouse struct {
	bun.BaseModel `bun:"table:warehouse"`

	ID        string `bun:"id,pk"`
	ProjectID string `bun:"project_id,notnull"`
	Name      string `bun:"name,notnull"`

	Status string `bun:"status,notnull,default:'active'"` // active | inactive

	SoftDeleteMode    string `bun:"soft_delete_mode,notnull,default:'soft'"` // soft | hard
	SoftDeleteTTLDays int    `bun:"soft_delete_ttl_days,notnull,default:7"`

	VendedCredentialsDisabled bool `bun:"vended_credentials_disabled,notnull,default:false"`
	RemoteSigningDisabled     bool `bun:"remote_signing_disabled,notnull,default:false"`

	CacheVersion int64      `bun:"cache_version,notnull,default:1"`
	DeletedAt    *time.Time `bun:"deleted_at"`
	Protected    bool       `bun:"protected,notnull,default:false"`

	StorageProfile

	TimeAuditable

	Project *Project `bun:"rel:belongs-to,join:project_id=id"`
}

// Namespace is an ordered path of segments under a warehouse. Path is
// stored lower-cased for collation-insensitive lookup; PathSegments
// preserves the caller's original casing for display.
type Namespace struct {
	bun.BaseModel `bun:"table:namespace"`

	ID          string `bun:"id,pk"`
	WarehouseID string `bun:"warehouse_id,notnull"`

	Path        string   `bun:"path,notnull"`      // unit-separator joined, lower-cased
	PathSegments []string `bun:"path_segments,array,notnull"`

	Properties map[string]string `bun:"properties,notnull,type:jsonb"`

	Location      string `bun:"location"` // override of the warehouse default, empty if inherited
	ManagedAccess bool   `bun:"managed_access,notnull,default:false"`

	DeletedAt *time.Time `bun:"deleted_at"`
	Protected bool       `bun:"protected,notnull,default:false"`

	TimeAuditable

	Warehouse *Warehouse `bun:"rel:belongs-to,join:warehouse_id=id"`
}

// Tabular is the shared projection for both tables and views:
// current metadata-file pointer, location, soft-delete, protection.
// Kind distinguishes "table" from "view"; the satellite rows below are
// only populated for the matching kind.
type Tabular struct {
	bun.BaseModel `bun:"table:tabular"`

	ID          string `bun:"id,pk"`
	WarehouseID string `bun:"warehouse_id,notnull"`
	NamespaceID string `bun:"namespace_id,notnull"`

	// NamespaceName is denormalized for the trigram search index (spec
	// §3's invariant: kept in sync by rename logic, never updated
	// directly by callers).
	NamespaceName string `bun:"namespace_name,notnull"`
	Name          string `bun:"name,notnull"`

	Kind string `bun:"kind,notnull"` // table | view

	TableUUID string `bun:"table_uuid,notnull"`
	Location  string `bun:"location,notnull"`

	MetadataLocation string `bun:"metadata_location"` // current metadata-file URI
	Staged           bool   `bun:"staged,notnull,default:false"`

	LastSequenceNumber int64 `bun:"last_sequence_number,notnull,default:0"`
	LastColumnID       int   `bun:"last_column_id,notnull,default:0"`
	LastPartitionID    int   `bun:"last_partition_id,notnull,default:0"`
	LastUpdatedMs      int64 `bun:"last_updated_ms,notnull,default:0"`
	NextRowID          int64 `bun:"next_row_id,notnull,default:0"`
	FormatVersion      int   `bun:"format_version,notnull,default:2"`

	CurrentSchemaID    int    `bun:"current_schema_id,notnull,default:-1"`
	DefaultSpecID      int    `bun:"default_spec_id,notnull,default:0"`
	DefaultSortOrderID int    `bun:"default_sort_order_id,notnull,default:0"`
	CurrentSnapshotID  *int64 `bun:"current_snapshot_id"`

	// CurrentViewVersionID is meaningful only when Kind is "view".
	CurrentViewVersionID int `bun:"current_view_version_id,notnull,default:-1"`

	DeletedAt *time.Time `bun:"deleted_at"`
	Protected bool       `bun:"protected,notnull,default:false"`

	TimeAuditable

	Warehouse *Warehouse `bun:"rel:belongs-to,join:warehouse_id=id"`
	Namespace *Namespace `bun:"rel:belongs-to,join:namespace_id=id"`
}

// TabularSchema is one `schema` row; the JSON document is
// stored verbatim and reparsed into model.Schema on load.
type TabularSchema struct {
	bun.BaseModel `bun:"table:tabular_schema"`

	ID        int64  `bun:"id,pk,autoincrement"`
	TabularID string `bun:"tabular_id,notnull"`
	SchemaID  int    `bun:"schema_id,notnull"`
	Document  []byte `bun:"document,notnull,type:jsonb"`
}

type TabularPartitionSpec struct {
	bun.BaseModel `bun:"table:tabular_partition_spec"`

	ID        int64  `bun:"id,pk,autoincrement"`
	TabularID string `bun:"tabular_id,notnull"`
	SpecID    int    `bun:"spec_id,notnull"`
	Document  []byte `bun:"document,notnull,type:jsonb"`
}

type TabularSortOrder struct {
	bun.BaseModel `bun:"table:tabular_sort_order"`

	ID        int64  `bun:"id,pk,autoincrement"`
	TabularID string `bun:"tabular_id,notnull"`
	OrderID   int    `bun:"order_id,notnull"`
	Document  []byte `bun:"document,notnull,type:jsonb"`
}

type TabularSnapshot struct {
	bun.BaseModel `bun:"table:tabular_snapshot"`

	ID               int64  `bun:"id,pk,autoincrement"`
	TabularID        string `bun:"tabular_id,notnull"`
	SnapshotID       int64  `bun:"snapshot_id,notnull"`
	ParentSnapshotID *int64 `bun:"parent_snapshot_id"`
	SequenceNumber   int64  `bun:"sequence_number,notnull"`
	TimestampMs      int64  `bun:"timestamp_ms,notnull"`
	ManifestList     string `bun:"manifest_list,notnull"`
	Summary          []byte `bun:"summary,type:jsonb"`
	SchemaID         *int   `bun:"schema_id"`
}

type TabularSnapshotLog struct {
	bun.BaseModel `bun:"table:tabular_snapshot_log"`

	ID          int64  `bun:"id,pk,autoincrement"`
	TabularID   string `bun:"tabular_id,notnull"`
	TimestampMs int64  `bun:"timestamp_ms,notnull"`
	SnapshotID  int64  `bun:"snapshot_id,notnull"`
}

type TabularMetadataLog struct {
	bun.BaseModel `bun:"table:tabular_metadata_log"`

	ID           int64  `bun:"id,pk,autoincrement"`
	TabularID    string `bun:"tabular_id,notnull"`
	TimestampMs  int64  `bun:"timestamp_ms,notnull"`
	MetadataFile string `bun:"metadata_file,notnull"`
}

type TabularRef struct {
	bun.BaseModel `bun:"table:tabular_ref"`

	ID         int64  `bun:"id,pk,autoincrement"`
	TabularID  string `bun:"tabular_id,notnull"`
	Name       string `bun:"name,notnull"`
	Type       string `bun:"type,notnull"` // branch | tag
	SnapshotID int64  `bun:"snapshot_id,notnull"`

	MinSnapshotsToKeep int   `bun:"min_snapshots_to_keep"`
	MaxSnapshotAgeMs   int64 `bun:"max_snapshot_age_ms"`
	MaxRefAgeMs        int64 `bun:"max_ref_age_ms"`
}

type TabularProperty struct {
	bun.BaseModel `bun:"table:tabular_property"`

	ID        int64  `bun:"id,pk,autoincrement"`
	TabularID string `bun:"tabular_id,notnull"`
	Key       string `bun:"key,notnull"`
	Value     string `bun:"value,notnull"`
}

type TabularStatistics struct {
	bun.BaseModel `bun:"table:tabular_statistics"`

	ID                  int64  `bun:"id,pk,autoincrement"`
	TabularID           string `bun:"tabular_id,notnull"`
	SnapshotID          int64  `bun:"snapshot_id,notnull"`
	StatisticsPath      string `bun:"statistics_path,notnull"`
	FileSizeBytes       int64  `bun:"file_size_bytes,notnull"`
	FileFooterSizeBytes int64  `bun:"file_footer_size_bytes,notnull"`
}

type TabularPartitionStatistics struct {
	bun.BaseModel `bun:"table:tabular_partition_statistics"`

	ID             int64  `bun:"id,pk,autoincrement"`
	TabularID      string `bun:"tabular_id,notnull"`
	SnapshotID     int64  `bun:"snapshot_id,notnull"`
	StatisticsPath string `bun:"statistics_path,notnull"`
	FileSizeBytes  int64  `bun:"file_size_bytes,notnull"`
}

// ViewVersion rows back model.ViewVersion: one document per version; the
// current-version pointer is the Tabular row's own CurrentViewVersionID
// column.
type TabularViewVersion struct {
	bun.BaseModel `bun:"table:tabular_view_version"`

	ID        int64  `bun:"id,pk,autoincrement"`
	TabularID string `bun:"tabular_id,notnull"`
	VersionID int    `bun:"version_id,notnull"`
	Document  []byte `bun:"document,notnull,type:jsonb"`
}

// Role, User, and Grant back the relation-based Authorization Engine
// backend (§4.3) and the management surface for assigning roles.
type Role struct {
	bun.BaseModel `bun:"table:role"`

	ID        string `bun:"id,pk"`
	ProjectID string `bun:"project_id,notnull"`
	Name      string `bun:"name,notnull"`

	TimeAuditable
}

type User struct {
	bun.BaseModel `bun:"table:catalog_user"`

	ID      string `bun:"id,pk"` // subject claim from the OIDC token
	Email   string `bun:"email"`
	Name    string `bun:"name"`

	TimeAuditable
}

// Grant is one relation tuple: (subject, relation, object) in the
// OpenFGA-style tuple-store model the relation authorizer evaluates by
// graph reachability.
type Grant struct {
	bun.BaseModel `bun:"table:grant_tuple"`

	ID int64 `bun:"id,pk,autoincrement"`

	SubjectType string `bun:"subject_type,notnull"` // user | role
	SubjectID   string `bun:"subject_id,notnull"`

	Relation string `bun:"relation,notnull"` // owner | editor | viewer | ...

	ObjectType string `bun:"object_type,notnull"` // an authz.EntityType value: project | warehouse | namespace | table | view | ...
	ObjectID   string `bun:"object_id,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Task and TaskLog back the at-least-once Task Queue (§4.5). A task is
// scoped to a project and, depending on EntityType, to a warehouse and a
// tabular; the check constraints in the migration enforce which of those
// may be null for each entity type.
type Task struct {
	bun.BaseModel `bun:"table:task"`

	ID             string `bun:"id,pk"`
	IdempotencyKey string `bun:"idempotency_key,notnull,unique"`
	Queue          string `bun:"queue_name,notnull"`
	Payload        []byte `bun:"payload,notnull,type:jsonb"`

	ProjectID   string  `bun:"project_id,notnull"`
	WarehouseID *string `bun:"warehouse_id"`
	EntityType  string  `bun:"entity_type,notnull"` // project | warehouse | table | view
	EntityID    *string `bun:"entity_id"`

	ParentTaskID *string `bun:"parent_task_id"`

	Status      string     `bun:"status,notnull,default:'pending'"` // pending | running | should-stop | success | failed | cancelled
	Attempt     int        `bun:"attempt,notnull,default:0"`
	MaxAttempts int        `bun:"max_attempts,notnull,default:5"`

	ScheduledFor time.Time  `bun:"scheduled_for,notnull,default:current_timestamp"`
	PickedUpAt   *time.Time `bun:"picked_up_at"`
	PickedUpBy   string     `bun:"picked_up_by"`

	Progress         float64 `bun:"progress,notnull,default:0"`
	ExecutionDetails []byte  `bun:"execution_details,type:jsonb"`

	TimeAuditable
}

type TaskLog struct {
	bun.BaseModel `bun:"table:task_log"`

	ID        int64     `bun:"id,pk,autoincrement"`
	TaskID    string    `bun:"task_id,notnull"`
	Queue     string    `bun:"queue_name,notnull"`
	Attempt   int       `bun:"attempt,notnull"`
	Status    string    `bun:"status,notnull"` // success | failed | cancelled
	Message   string    `bun:"message"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// TaskConfig holds per-project overrides for a queue (poll cadence and
// retry policy) plus the cron expression for user-registered recurring
// tasks.
type TaskConfig struct {
	bun.BaseModel `bun:"table:task_config"`

	ID          int64   `bun:"id,pk,autoincrement"`
	ProjectID   string  `bun:"project_id,notnull"`
	WarehouseID *string `bun:"warehouse_id"`
	Queue       string  `bun:"queue_name,notnull"`

	MaxAttempts int    `bun:"max_attempts,notnull,default:5"`
	CronExpr    string `bun:"cron_expr"`
	Payload     []byte `bun:"payload,type:jsonb"`
	Enabled     bool   `bun:"enabled,notnull,default:true"`

	TimeAuditable
}

// Secret is one encrypted credential row for the postgres secrets
// backend. The ciphertext is sealed with a key derived from the
// pg-encryption-key startup option; the store never sees plaintext.
type Secret struct {
	bun.BaseModel `bun:"table:secret"`

	Ref        string `bun:"ref,pk"`
	Nonce      []byte `bun:"nonce,notnull"`
	Ciphertext []byte `bun:"ciphertext,notnull"`

	TimeAuditable
}

// WarehouseStatistic is one rollup bucket of tabular counts per
// warehouse, produced by the statistics_rollup task.
type WarehouseStatistic struct {
	bun.BaseModel `bun:"table:warehouse_statistics"`

	ID          int64     `bun:"id,pk,autoincrement"`
	WarehouseID string    `bun:"warehouse_id,notnull"`
	TableCount  int       `bun:"table_count,notnull"`
	ViewCount   int       `bun:"view_count,notnull"`
	CollectedAt time.Time `bun:"collected_at,notnull,default:current_timestamp"`
}

// EndpointStatistic is one (endpoint, status, hour-bucket) usage counter
// row. Writers upsert-increment; the rollup task prunes per the
// stat-retention configuration.
type EndpointStatistic struct {
	bun.BaseModel `bun:"table:endpoint_statistics"`

	ID         int64     `bun:"id,pk,autoincrement"`
	ProjectID  string    `bun:"project_id,notnull"`
	Endpoint   string    `bun:"endpoint,notnull"`
	StatusCode int       `bun:"status_code,notnull"`
	Count      int64     `bun:"count,notnull,default:0"`
	Bucket     time.Time `bun:"bucket,notnull"`
}

// AuditEvent is the first-class audit-log relation behind the
// management API's decision history listing.
type AuditEvent struct {
	bun.BaseModel `bun:"table:audit_event"`

	ID         int64  `bun:"id,pk,autoincrement"`
	ActorID    string `bun:"actor_id,notnull"`
	Action     string `bun:"action,notnull"`
	ObjectType string `bun:"object_type,notnull"`
	ObjectID   string `bun:"object_id,notnull"`
	Decision   string `bun:"decision,notnull"` // an authz.Decision value: allow | deny-forbidden | deny-not-found | deny-invisible | internal-error
	Detail     []byte `bun:"detail,type:jsonb"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
