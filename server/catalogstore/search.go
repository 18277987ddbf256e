package catalogstore

import (
	"context"

	"github.com/gear6io/icecatalog/pkg/errors"
)

// SearchResult is one fuzzy-matched tabular, not yet filtered by
// authorization; the caller (the REST handler in front of the
// authorization engine)
// is expected to run IsAllowedBatch over the candidate set before
// returning it to a client's "filtered by authorization".
type SearchResult struct {
	TabularID     string  `bun:"id"`
	WarehouseID   string  `bun:"warehouse_id"`
	NamespaceName string  `bun:"namespace_name"`
	Name          string  `bun:"name"`
	Kind          string  `bun:"kind"`
	Similarity    float64 `bun:"similarity"`
}

// SearchTabulars backs the "search by name fragment" endpoint using the
// functional trigram index created in migration 001
// (concat(namespace_path, '.', tabular_name)). limit bounds how many
// candidates are returned before authorization filtering narrows them
// further, so it should be set generously relative to the page size the
// caller ultimately wants to return.
func (s *Store) SearchTabulars(ctx context.Context, warehouseID, fragment string, limit int) ([]SearchResult, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var results []SearchResult
	err := s.read.NewSelect().
		Table("tabular").
		ColumnExpr("id, warehouse_id, namespace_name, name, kind").
		ColumnExpr("similarity(namespace_name || '.' || name, ?) AS similarity", fragment).
		Where("warehouse_id = ? AND deleted_at IS NULL", warehouseID).
		Where("(namespace_name || '.' || name) % ?", fragment).
		OrderExpr("similarity DESC").
		Limit(limit).
		Scan(ctx, &results)
	if err != nil {
		return nil, errors.Wrap(errors.CommonInternal, err, "fuzzy tabular search failed")
	}
	return results, nil
}
