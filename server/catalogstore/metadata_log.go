package catalogstore

import (
	"context"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/uptrace/bun"
)

// TrimMetadataLog deletes the oldest metadata-log rows beyond keep and
// returns the file URIs of the removed rows so the caller can delete
// the objects themselves. Used by the metadata_log_cleanup task.
func (s *Store) TrimMetadataLog(ctx context.Context, tabularID string, keep int) ([]string, error) {
	var rows []TabularMetadataLog
	err := s.write.NewSelect().Model(&rows).
		Where("tabular_id = ?", tabularID).
		OrderExpr("timestamp_ms ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.CommonInternal, err, "failed to list metadata log")
	}
	if len(rows) <= keep {
		return nil, nil
	}

	surplus := rows[:len(rows)-keep]
	ids := make([]int64, 0, len(surplus))
	files := make([]string, 0, len(surplus))
	for _, r := range surplus {
		ids = append(ids, r.ID)
		files = append(files, r.MetadataFile)
	}
	if _, err := s.write.NewDelete().Model((*TabularMetadataLog)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx); err != nil {
		return nil, errors.Wrap(errors.CommonInternal, err, "failed to trim metadata log")
	}
	return files, nil
}
