package catalogstore

import (
	"context"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ErrWarehouseProtected = errors.MustNewCode("catalogstore.warehouse_protected")

type CreateWarehouseParams struct {
	ProjectID      string
	Name           string
	StorageProfile StorageProfile
}

func (s *Store) CreateWarehouse(ctx context.Context, p CreateWarehouseParams) (*Warehouse, error) {
	w := &Warehouse{
		ID:             uuid.NewString(),
		ProjectID:      p.ProjectID,
		Name:           p.Name,
		Status:         "active",
		SoftDeleteMode: "soft",
		SoftDeleteTTLDays: 7,
		StorageProfile: p.StorageProfile,
	}
	_, err := s.write.NewInsert().Model(w).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.Newf(ErrAlreadyExists, "warehouse %q already exists in project", p.Name)
		}
		return nil, errors.Wrap(errors.CommonInternal, err, "failed to create warehouse")
	}
	return w, nil
}

func (s *Store) GetWarehouse(ctx context.Context, id string) (*Warehouse, error) {
	w := new(Warehouse)
	err := s.read.NewSelect().Model(w).Where("id = ? AND deleted_at IS NULL", id).Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "warehouse", id)
	}
	return w, nil
}

func (s *Store) GetWarehouseByName(ctx context.Context, projectID, name string) (*Warehouse, error) {
	w := new(Warehouse)
	err := s.read.NewSelect().Model(w).
		Where("project_id = ? AND name = ? AND deleted_at IS NULL", projectID, name).
		Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "warehouse", name)
	}
	return w, nil
}

func (s *Store) ListWarehouses(ctx context.Context, projectID string, cursor PageCursor, pageSize int) (Page[Warehouse], error) {
	pageSize = clampPageSize(pageSize)
	var items []Warehouse
	q := s.read.NewSelect().Model(&items).
		Where("project_id = ? AND deleted_at IS NULL", projectID).
		OrderExpr("created_at ASC, id ASC").
		Limit(pageSize)
	if cursor.ID != "" {
		q = q.Where("(created_at, id) > (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	if err := q.Scan(ctx); err != nil {
		return Page[Warehouse]{}, errors.Wrap(errors.CommonInternal, err, "failed to list warehouses")
	}
	page := Page[Warehouse]{Items: items}
	if len(items) == pageSize {
		last := items[len(items)-1]
		page.NextCursor = PageCursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

func (s *Store) LockWarehouseForUpdate(ctx context.Context, tx bun.IDB, id string) (*Warehouse, error) {
	w := new(Warehouse)
	err := tx.NewSelect().Model(w).Where("id = ?", id).For("UPDATE").Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "warehouse", id)
	}
	return w, nil
}

// UpdateWarehouse persists the given fields and bumps CacheVersion so
// in-process caches elsewhere (credential vending, storage profile
// resolution) observe the change without a broadcast channel.
func (s *Store) UpdateWarehouse(ctx context.Context, w *Warehouse) error {
	w.CacheVersion++
	w.UpdatedAt = time.Now().UTC()
	res, err := s.write.NewUpdate().Model(w).WherePK().Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to update warehouse")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(ErrNotFound, "warehouse %q not found", w.ID)
	}
	return nil
}

func (s *Store) RenameWarehouse(ctx context.Context, id, newName string) error {
	res, err := s.write.NewUpdate().Model((*Warehouse)(nil)).
		Set("name = ?", newName).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ? AND deleted_at IS NULL", id).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Newf(ErrAlreadyExists, "warehouse %q already exists in project", newName)
		}
		return errors.Wrap(errors.CommonInternal, err, "failed to rename warehouse")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(ErrNotFound, "warehouse %q not found", id)
	}
	return nil
}

// SoftDeleteWarehouse sets deleted_at unless the warehouse is protected
// and force is false.
func (s *Store) SoftDeleteWarehouse(ctx context.Context, id string, force bool) error {
	w, err := s.GetWarehouse(ctx, id)
	if err != nil {
		return err
	}
	if w.Protected && !force {
		return errors.Newf(ErrWarehouseProtected, "warehouse %q is protected", id)
	}
	now := time.Now().UTC()
	_, err = s.write.NewUpdate().Model((*Warehouse)(nil)).
		Set("deleted_at = ?", now).
		Where("id = ? AND deleted_at IS NULL", id).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to soft-delete warehouse")
	}
	return nil
}

func (s *Store) HardDeleteWarehouse(ctx context.Context, id string) error {
	res, err := s.write.NewDelete().Model((*Warehouse)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to hard-delete warehouse")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(ErrNotFound, "warehouse %q not found", id)
	}
	return nil
}
