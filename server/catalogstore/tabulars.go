package catalogstore

import (
	"context"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var (
	ErrTabularProtected   = errors.MustNewCode("catalogstore.tabular_protected")
	ErrTableUUIDCollision = errors.MustNewCode("catalogstore.table_uuid_collision")
)

const (
	KindTable = "table"
	KindView  = "view"
)

type CreateTabularParams struct {
	WarehouseID   string
	NamespaceID   string
	NamespaceName string
	Name          string
	Kind          string
	TableUUID     string
	Location      string
	Staged        bool
}

func (s *Store) CreateTabular(ctx context.Context, p CreateTabularParams) (*Tabular, error) {
	t := &Tabular{
		ID:                 uuid.NewString(),
		WarehouseID:        p.WarehouseID,
		NamespaceID:        p.NamespaceID,
		NamespaceName:      p.NamespaceName,
		Name:               p.Name,
		Kind:               p.Kind,
		TableUUID:          p.TableUUID,
		Location:           p.Location,
		Staged:             p.Staged,
		CurrentSchemaID:    -1,
		FormatVersion:      2,
	}
	_, err := s.write.NewInsert().Model(t).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.Newf(ErrAlreadyExists, "%s %q already exists", p.Kind, p.Name)
		}
		return nil, errors.Wrap(errors.CommonInternal, err, "failed to create tabular")
	}
	return t, nil
}

// CheckTableUUIDFree enforces the table-uuid collision rule (see DESIGN.md's
// Open Question #2 resolution) for CreateTable and RegisterTable: a
// warehouse may never hold two live tables sharing a table-uuid, even
// across namespaces.
func (s *Store) CheckTableUUIDFree(ctx context.Context, warehouseID, tableUUID string) error {
	exists, err := s.read.NewSelect().Model((*Tabular)(nil)).
		Where("warehouse_id = ? AND table_uuid = ? AND deleted_at IS NULL", warehouseID, tableUUID).
		Exists(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to check table-uuid uniqueness")
	}
	if exists {
		return errors.Newf(ErrTableUUIDCollision, "table-uuid %q already registered in warehouse", tableUUID)
	}
	return nil
}

func (s *Store) GetTabular(ctx context.Context, id string) (*Tabular, error) {
	t := new(Tabular)
	err := s.read.NewSelect().Model(t).Where("id = ? AND deleted_at IS NULL", id).Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "tabular", id)
	}
	return t, nil
}

func (s *Store) GetTabularIncludeDeleted(ctx context.Context, id string) (*Tabular, error) {
	t := new(Tabular)
	err := s.read.NewSelect().Model(t).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "tabular", id)
	}
	return t, nil
}

func (s *Store) GetTabularByPath(ctx context.Context, namespaceID, name, kind string) (*Tabular, error) {
	t := new(Tabular)
	err := s.read.NewSelect().Model(t).
		Where("namespace_id = ? AND name = ? AND kind = ? AND deleted_at IS NULL", namespaceID, name, kind).
		Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, kind, name)
	}
	return t, nil
}

func (s *Store) ListTabulars(ctx context.Context, namespaceID, kind string, cursor PageCursor, pageSize int) (Page[Tabular], error) {
	pageSize = clampPageSize(pageSize)
	var items []Tabular
	q := s.read.NewSelect().Model(&items).
		Where("namespace_id = ? AND kind = ? AND deleted_at IS NULL", namespaceID, kind).
		OrderExpr("created_at ASC, id ASC").
		Limit(pageSize)
	if cursor.ID != "" {
		q = q.Where("(created_at, id) > (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	if err := q.Scan(ctx); err != nil {
		return Page[Tabular]{}, errors.Wrap(errors.CommonInternal, err, "failed to list tabulars")
	}
	page := Page[Tabular]{Items: items}
	if len(items) == pageSize {
		last := items[len(items)-1]
		page.NextCursor = PageCursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

// LockTabularForUpdate acquires the row-level lock the commit engine
// needs before evaluating requirements.
func (s *Store) LockTabularForUpdate(ctx context.Context, tx bun.IDB, id string) (*Tabular, error) {
	t := new(Tabular)
	err := tx.NewSelect().Model(t).Where("id = ?", id).For("UPDATE").Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "tabular", id)
	}
	return t, nil
}

// RenameTabular moves a tabular to a new namespace/name and keeps the
// denormalized NamespaceName column in sync.
func (s *Store) RenameTabular(ctx context.Context, id, newNamespaceID, newNamespaceName, newName string) error {
	res, err := s.write.NewUpdate().Model((*Tabular)(nil)).
		Set("namespace_id = ?", newNamespaceID).
		Set("namespace_name = ?", newNamespaceName).
		Set("name = ?", newName).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ? AND deleted_at IS NULL", id).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Newf(ErrAlreadyExists, "%q already exists in target namespace", newName)
		}
		return errors.Wrap(errors.CommonInternal, err, "failed to rename tabular")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(ErrNotFound, "tabular %q not found", id)
	}
	return nil
}

func (s *Store) SoftDeleteTabular(ctx context.Context, id string, force bool) error {
	t, err := s.GetTabular(ctx, id)
	if err != nil {
		return err
	}
	if t.Protected && !force {
		return errors.Newf(ErrTabularProtected, "%s %q is protected", t.Kind, id)
	}
	_, err = s.write.NewUpdate().Model((*Tabular)(nil)).
		Set("deleted_at = ?", time.Now().UTC()).
		Where("id = ? AND deleted_at IS NULL", id).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to soft-delete tabular")
	}
	return nil
}

func (s *Store) HardDeleteTabular(ctx context.Context, id string) error {
	res, err := s.write.NewDelete().Model((*Tabular)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to hard-delete tabular")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(ErrNotFound, "tabular %q not found", id)
	}
	return nil
}

// ListDeletedTabulars lists soft-deleted tabulars in a warehouse,
// backing the "show me what is pending expiration" endpoint: callers
// must ask for deleted items explicitly, the default listings conceal
// them.
func (s *Store) ListDeletedTabulars(ctx context.Context, warehouseID string, cursor PageCursor, pageSize int) (Page[Tabular], error) {
	pageSize = clampPageSize(pageSize)
	var items []Tabular
	q := s.read.NewSelect().Model(&items).
		Where("warehouse_id = ? AND deleted_at IS NOT NULL", warehouseID).
		OrderExpr("created_at ASC, id ASC").
		Limit(pageSize)
	if cursor.ID != "" {
		q = q.Where("(created_at, id) > (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	if err := q.Scan(ctx); err != nil {
		return Page[Tabular]{}, errors.Wrap(errors.CommonInternal, err, "failed to list deleted tabulars")
	}
	page := Page[Tabular]{Items: items}
	if len(items) == pageSize {
		last := items[len(items)-1]
		page.NextCursor = PageCursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

// ListExpiredSoftDeletes finds soft-deleted tabulars past their
// warehouse's TTL, feeding the expiration task.
func (s *Store) ListExpiredSoftDeletes(ctx context.Context, olderThan time.Time, limit int) ([]Tabular, error) {
	var items []Tabular
	err := s.read.NewSelect().Model(&items).
		Where("deleted_at IS NOT NULL AND deleted_at < ?", olderThan).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.CommonInternal, err, "failed to list expired soft-deletes")
	}
	return items, nil
}
