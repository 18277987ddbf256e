package catalogstore

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

var (
	ErrMigrationFailed = errors.MustNewCode("catalogstore.migration_failed")
)

// Migration is one forward schema step, applied in version order
// against a Postgres bun.Tx.
type Migration interface {
	Version() int
	Name() string
	Description() string
	Up(ctx context.Context, tx bun.Tx) error
}

// MigrationManager runs pending migrations inside one transaction,
// all or nothing.
type MigrationManager struct {
	db  *bun.DB
	log zerolog.Logger
}

func NewMigrationManager(db *bun.DB, logger zerolog.Logger) *MigrationManager {
	return &MigrationManager{db: db, log: logger}
}

func (m *MigrationManager) MigrateToLatest(ctx context.Context) error {
	current, err := m.currentVersion(ctx)
	if err != nil {
		return errors.Wrap(ErrMigrationFailed, err, "failed to get current version")
	}

	var pending []Migration
	for _, mig := range allMigrations() {
		if mig.Version() > current {
			pending = append(pending, mig)
		}
	}
	if len(pending) == 0 {
		m.log.Debug().Msg("no pending migrations")
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(ErrMigrationFailed, err, "failed to begin migration transaction")
	}

	for _, mig := range pending {
		m.log.Info().Int("version", mig.Version()).Str("name", mig.Name()).Msg("running migration")
		if err := mig.Up(ctx, tx); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(ErrMigrationFailed, err, "migration failed").
				AddContext("version", strconv.Itoa(mig.Version())).AddContext("name", mig.Name())
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bun_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			mig.Version(), mig.Name(), time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(ErrMigrationFailed, err, "failed to record migration").
				AddContext("version", strconv.Itoa(mig.Version()))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(ErrMigrationFailed, err, "failed to commit migrations")
	}
	return nil
}

func (m *MigrationManager) currentVersion(ctx context.Context) (int, error) {
	exists, err := m.tableExists(ctx, "bun_migrations")
	if err != nil {
		return 0, err
	}
	if !exists {
		if err := m.createMigrationsTable(ctx); err != nil {
			return 0, err
		}
		return 0, nil
	}

	var version int
	err = m.db.NewSelect().
		Column("version").
		Table("bun_migrations").
		Order("version DESC").
		Limit(1).
		Scan(ctx, &version)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

func (m *MigrationManager) createMigrationsTable(ctx context.Context) error {
	_, err := m.db.NewCreateTable().
		Model(&struct {
			bun.BaseModel `bun:"table:bun_migrations"`
			Version       int       `bun:"version,pk"`
			Name          string    `bun:"name,notnull"`
			AppliedAt     time.Time `bun:"applied_at,notnull"`
		}{}).
		IfNotExists().
		Exec(ctx)
	return err
}

func (m *MigrationManager) tableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := m.db.NewSelect().
		ColumnExpr("EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = ?)", name).
		Scan(ctx, &exists)
	return exists, err
}

func allMigrations() []Migration {
	return []Migration{
		&migration001{},
	}
}

// migration001 creates the whole catalog schema in one forward step; the schema is small enough
// (and young enough) that splitting it across multiple versioned files
// would only add ceremony.
type migration001 struct{}

func (migration001) Version() int     { return 1 }
func (migration001) Name() string     { return "001_initial_schema" }
func (migration001) Description() string {
	return "project/warehouse/namespace/tabular hierarchy, decomposed metadata, grants, tasks, audit log"
}

func (migration001) Up(ctx context.Context, tx bun.Tx) error {
	models := []interface{}{
		(*Project)(nil),
		(*Warehouse)(nil),
		(*Namespace)(nil),
		(*Tabular)(nil),
		(*TabularSchema)(nil),
		(*TabularPartitionSpec)(nil),
		(*TabularSortOrder)(nil),
		(*TabularSnapshot)(nil),
		(*TabularSnapshotLog)(nil),
		(*TabularMetadataLog)(nil),
		(*TabularRef)(nil),
		(*TabularProperty)(nil),
		(*TabularStatistics)(nil),
		(*TabularPartitionStatistics)(nil),
		(*TabularViewVersion)(nil),
		(*Role)(nil),
		(*User)(nil),
		(*Grant)(nil),
		(*Task)(nil),
		(*TaskLog)(nil),
		(*TaskConfig)(nil),
		(*Secret)(nil),
		(*WarehouseStatistic)(nil),
		(*EndpointStatistic)(nil),
		(*AuditEvent)(nil),
	}

	for _, model := range models {
		if _, err := tx.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	statements := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS warehouse_project_name_uq ON warehouse (project_id, name) WHERE deleted_at IS NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS namespace_warehouse_path_uq ON namespace (warehouse_id, path) WHERE deleted_at IS NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tabular_namespace_name_uq ON tabular (namespace_id, name, kind) WHERE deleted_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS tabular_warehouse_idx ON tabular (warehouse_id)`,
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE INDEX IF NOT EXISTS tabular_search_trgm_idx ON tabular USING gist ((namespace_name || '.' || name) gist_trgm_ops)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tabular_schema_uq ON tabular_schema (tabular_id, schema_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tabular_partition_spec_uq ON tabular_partition_spec (tabular_id, spec_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tabular_sort_order_uq ON tabular_sort_order (tabular_id, order_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tabular_snapshot_uq ON tabular_snapshot (tabular_id, snapshot_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tabular_snapshot_seq_uq ON tabular_snapshot (tabular_id, sequence_number)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tabular_ref_uq ON tabular_ref (tabular_id, name)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tabular_property_uq ON tabular_property (tabular_id, key)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS grant_tuple_uq ON grant_tuple (subject_type, subject_id, relation, object_type, object_id)`,
		`CREATE INDEX IF NOT EXISTS grant_object_idx ON grant_tuple (object_type, object_id)`,
		`CREATE INDEX IF NOT EXISTS task_poll_idx ON task (status, scheduled_for)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS task_target_uq ON task (project_id, warehouse_id, entity_type, entity_id, queue_name) NULLS NOT DISTINCT WHERE status IN ('pending', 'running', 'should-stop')`,
		`ALTER TABLE task ADD CONSTRAINT task_entity_scope_ck CHECK (
			(entity_type = 'project' AND warehouse_id IS NULL AND entity_id IS NULL) OR
			(entity_type = 'warehouse' AND warehouse_id IS NOT NULL AND entity_id IS NULL) OR
			(entity_type IN ('table', 'view') AND warehouse_id IS NOT NULL AND entity_id IS NOT NULL))`,
		`CREATE INDEX IF NOT EXISTS endpoint_statistics_bucket_idx ON endpoint_statistics (project_id, bucket)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS endpoint_statistics_uq ON endpoint_statistics (project_id, endpoint, status_code, bucket)`,
		`CREATE INDEX IF NOT EXISTS warehouse_statistics_idx ON warehouse_statistics (warehouse_id, collected_at)`,
		`CREATE INDEX IF NOT EXISTS tabular_location_idx ON tabular (warehouse_id, location text_pattern_ops)`,
		`CREATE INDEX IF NOT EXISTS audit_event_object_idx ON audit_event (object_type, object_id)`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
