package catalogstore

import (
	"context"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
)

// RecordEndpointCall upsert-increments the hour-bucket counter for one
// (endpoint, status) pair. Callers batch at the edge; a lost increment
// under contention is acceptable for usage statistics, so this uses a
// plain ON CONFLICT add rather than a serialized transaction.
func (s *Store) RecordEndpointCall(ctx context.Context, projectID, endpoint string, statusCode int) error {
	bucket := time.Now().UTC().Truncate(time.Hour)
	_, err := s.write.NewInsert().Model(&EndpointStatistic{
		ProjectID:  projectID,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Count:      1,
		Bucket:     bucket,
	}).
		On("CONFLICT (project_id, endpoint, status_code, bucket) DO UPDATE").
		Set("count = endpoint_statistics.count + 1").
		Exec(ctx)
	if err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to record endpoint call")
	}
	return nil
}

// CollectWarehouseStatistics writes one rollup row per live warehouse
// with its current table and view counts. Invoked by the
// statistics_rollup task.
func (s *Store) CollectWarehouseStatistics(ctx context.Context) (int, error) {
	res, err := s.write.ExecContext(ctx, `
		INSERT INTO warehouse_statistics (warehouse_id, table_count, view_count, collected_at)
		SELECT w.id,
		       count(t.id) FILTER (WHERE t.kind = 'table'),
		       count(t.id) FILTER (WHERE t.kind = 'view'),
		       current_timestamp
		FROM warehouse w
		LEFT JOIN tabular t ON t.warehouse_id = w.id AND t.deleted_at IS NULL
		WHERE w.deleted_at IS NULL
		GROUP BY w.id`)
	if err != nil {
		return 0, errors.Wrap(errors.CommonInternal, err, "failed to collect warehouse statistics")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneStatistics enforces the stat-retention configuration: rows older
// than maxAge go first, then the oldest endpoint statistics beyond
// maxEntries per project. Warehouse statistics are pruned by age only.
func (s *Store) PruneStatistics(ctx context.Context, maxAge time.Duration, maxEntries int) error {
	cutoff := time.Now().UTC().Add(-maxAge)
	if _, err := s.write.NewDelete().Model((*EndpointStatistic)(nil)).
		Where("bucket < ?", cutoff).
		Exec(ctx); err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to prune endpoint statistics by age")
	}
	if _, err := s.write.NewDelete().Model((*WarehouseStatistic)(nil)).
		Where("collected_at < ?", cutoff).
		Exec(ctx); err != nil {
		return errors.Wrap(errors.CommonInternal, err, "failed to prune warehouse statistics by age")
	}
	if maxEntries > 0 {
		if _, err := s.write.ExecContext(ctx, `
			DELETE FROM endpoint_statistics WHERE id IN (
				SELECT id FROM (
					SELECT id, row_number() OVER (PARTITION BY project_id ORDER BY bucket DESC) AS rn
					FROM endpoint_statistics
				) ranked WHERE ranked.rn > ?
			)`, maxEntries); err != nil {
			return errors.Wrap(errors.CommonInternal, err, "failed to prune endpoint statistics by count")
		}
	}
	return nil
}
