package catalogstore

import (
	"context"
	"strings"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/model"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

var ErrNamespaceProtected = errors.MustNewCode("catalogstore.namespace_protected")

func (s *Store) CreateNamespace(ctx context.Context, warehouseID string, segments []string, properties map[string]string, location string) (*Namespace, error) {
	lowered := make([]string, len(segments))
	for i, seg := range segments {
		lowered[i] = strings.ToLower(seg)
	}
	n := &Namespace{
		ID:           uuid.NewString(),
		WarehouseID:  warehouseID,
		Path:         model.NamespacePath(lowered),
		PathSegments: segments, // display-cased; lookups go through the lowered path
		Properties:   properties,
		Location:     location,
	}
	if n.Properties == nil {
		n.Properties = map[string]string{}
	}
	_, err := s.write.NewInsert().Model(n).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.Newf(ErrAlreadyExists, "namespace %q already exists", strings.Join(segments, "."))
		}
		return nil, errors.Wrap(errors.CommonInternal, err, "failed to create namespace")
	}
	return n, nil
}

func (s *Store) GetNamespace(ctx context.Context, id string) (*Namespace, error) {
	n := new(Namespace)
	err := s.read.NewSelect().Model(n).Where("id = ? AND deleted_at IS NULL", id).Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "namespace", id)
	}
	return n, nil
}

// GetNamespaceByPath performs the case-insensitive lookup: callers address namespaces by any
// casing, the stored row retains the caller's original casing in
// PathSegments for display.
func (s *Store) GetNamespaceByPath(ctx context.Context, warehouseID string, segments []string) (*Namespace, error) {
	lowered := make([]string, len(segments))
	for i, seg := range segments {
		lowered[i] = strings.ToLower(seg)
	}
	path := model.NamespacePath(lowered)
	n := new(Namespace)
	err := s.read.NewSelect().Model(n).
		Where("warehouse_id = ? AND path = ? AND deleted_at IS NULL", warehouseID, path).
		Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "namespace", path)
	}
	return n, nil
}

func (s *Store) ListNamespaces(ctx context.Context, warehouseID string, parent []string, cursor PageCursor, pageSize int) (Page[Namespace], error) {
	pageSize = clampPageSize(pageSize)
	var items []Namespace
	q := s.read.NewSelect().Model(&items).
		Where("warehouse_id = ? AND deleted_at IS NULL", warehouseID).
		OrderExpr("created_at ASC, id ASC").
		Limit(pageSize)
	if len(parent) > 0 {
		lowered := make([]string, len(parent))
		for i, seg := range parent {
			lowered[i] = strings.ToLower(seg)
		}
		prefix := model.NamespacePath(lowered)
		q = q.Where("path = ? OR path LIKE ?", prefix, prefix+"\x1f%")
	}
	if cursor.ID != "" {
		q = q.Where("(created_at, id) > (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	if err := q.Scan(ctx); err != nil {
		return Page[Namespace]{}, errors.Wrap(errors.CommonInternal, err, "failed to list namespaces")
	}
	page := Page[Namespace]{Items: items}
	if len(items) == pageSize {
		last := items[len(items)-1]
		page.NextCursor = PageCursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

func (s *Store) LockNamespaceForUpdate(ctx context.Context, tx bun.IDB, id string) (*Namespace, error) {
	n := new(Namespace)
	err := tx.NewSelect().Model(n).Where("id = ?", id).For("UPDATE").Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "namespace", id)
	}
	return n, nil
}

func (s *Store) UpdateNamespaceProperties(ctx context.Context, id string, properties map[string]string) error {
	res, err := s.write.NewUpdate().Model((*Namespace)(nil)).
		Set("properties = ?", properties).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ? AND deleted_at IS NULL", id).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to update namespace properties")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(ErrNotFound, "namespace %q not found", id)
	}
	return nil
}

// RenameNamespace rewrites the namespace's path and keeps every child
// tabular's denormalized namespace_name column in sync inside one
// transaction.
func (s *Store) RenameNamespace(ctx context.Context, id string, newSegments []string) error {
	lowered := make([]string, len(newSegments))
	for i, seg := range newSegments {
		lowered[i] = strings.ToLower(seg)
	}
	newPath := model.NamespacePath(lowered)

	return s.WithTx(ctx, func(tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*Namespace)(nil)).
			Set("path = ?", newPath).
			Set("path_segments = ?", pgdialect.Array(newSegments)).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ? AND deleted_at IS NULL", id).
			Exec(ctx)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.Newf(ErrAlreadyExists, "namespace %q already exists", strings.Join(newSegments, "."))
			}
			return errors.Wrap(errors.CommonInternal, err, "failed to rename namespace")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.Newf(ErrNotFound, "namespace %q not found", id)
		}

		if _, err := tx.NewUpdate().Model((*Tabular)(nil)).
			Set("namespace_name = ?", newPath).
			Where("namespace_id = ?", id).
			Exec(ctx); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to resync tabular namespace names")
		}
		return nil
	})
}

func (s *Store) SoftDeleteNamespace(ctx context.Context, id string, force bool) error {
	n, err := s.GetNamespace(ctx, id)
	if err != nil {
		return err
	}
	if n.Protected && !force {
		return errors.Newf(ErrNamespaceProtected, "namespace %q is protected", id)
	}
	_, err = s.write.NewUpdate().Model((*Namespace)(nil)).
		Set("deleted_at = ?", time.Now().UTC()).
		Where("id = ? AND deleted_at IS NULL", id).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to soft-delete namespace")
	}
	return nil
}

func (s *Store) HardDeleteNamespace(ctx context.Context, id string) error {
	res, err := s.write.NewDelete().Model((*Namespace)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to hard-delete namespace")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(ErrNotFound, "namespace %q not found", id)
	}
	return nil
}
