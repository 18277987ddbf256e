package catalogstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

func (s *Store) CreateProject(ctx context.Context, name string) (*Project, error) {
	p := &Project{ID: uuid.NewString(), Name: name}
	_, err := s.write.NewInsert().Model(p).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.Newf(ErrAlreadyExists, "project %q already exists", name)
		}
		return nil, errors.Wrap(errors.CommonInternal, err, "failed to create project")
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	p := new(Project)
	err := s.read.NewSelect().Model(p).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "project", id)
	}
	return p, nil
}

func (s *Store) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	p := new(Project)
	err := s.read.NewSelect().Model(p).Where("name = ?", name).Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "project", name)
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, cursor PageCursor, pageSize int) (Page[Project], error) {
	pageSize = clampPageSize(pageSize)
	var items []Project
	q := s.read.NewSelect().Model(&items).OrderExpr("created_at ASC, id ASC").Limit(pageSize)
	if cursor.ID != "" {
		q = q.Where("(created_at, id) > (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	if err := q.Scan(ctx); err != nil {
		return Page[Project]{}, errors.Wrap(errors.CommonInternal, err, "failed to list projects")
	}
	page := Page[Project]{Items: items}
	if len(items) == pageSize {
		last := items[len(items)-1]
		page.NextCursor = PageCursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

// LockProjectForUpdate issues SELECT ... FOR UPDATE within tx, which may
// be either the Store's write handle or a transaction already owned by
// a caller such as the commit engine (bun.IDB is satisfied by both).
func (s *Store) LockProjectForUpdate(ctx context.Context, tx bun.IDB, id string) (*Project, error) {
	p := new(Project)
	err := tx.NewSelect().Model(p).Where("id = ?", id).For("UPDATE").Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "project", id)
	}
	return p, nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.write.NewDelete().Model((*Project)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to delete project")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(ErrNotFound, "project %q not found", id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && containsAny(err.Error(), "unique", "duplicate key", "UNIQUE constraint")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(strings.ToLower(s), strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

func translateNotFound(err error, kind, key string) error {
	if err == sql.ErrNoRows {
		return errors.Newf(ErrNotFound, "%s %q not found", kind, key)
	}
	return errors.Wrap(errors.CommonInternal, err, "query failed").AddContext(kind, key)
}
