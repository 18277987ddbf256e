package catalogstore

import (
	"context"

	"github.com/gear6io/icecatalog/pkg/errors"
)

var ErrAmbiguousLocation = errors.MustNewCode("catalogstore.ambiguous_location")

// ResolveTabularByLocation finds the tabular whose filesystem location
// is the longest prefix of uri within a warehouse. Two distinct tabulars matching at
// the same prefix length is ambiguous and surfaces as an error the
// broker maps to Forbidden.
func (s *Store) ResolveTabularByLocation(ctx context.Context, warehouseID, uri string) (*Tabular, error) {
	var matches []Tabular
	err := s.read.NewSelect().Model(&matches).
		Where("warehouse_id = ?", warehouseID).
		Where("deleted_at IS NULL").
		Where("? LIKE location || '%'", uri).
		OrderExpr("length(location) DESC").
		Limit(2).
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.CommonInternal, err, "failed to resolve tabular by location")
	}
	switch {
	case len(matches) == 0:
		return nil, errors.Newf(errors.CommonNotFound, "no tabular owns location %q", uri)
	case len(matches) == 2 && len(matches[0].Location) == len(matches[1].Location):
		return nil, errors.Newf(ErrAmbiguousLocation, "location %q lies under more than one tabular prefix", uri)
	}
	return &matches[0], nil
}
