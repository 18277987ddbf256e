package authz

import "context"

// AllowAll is the permissive backend: every authenticated
// caller is allowed, meant for development only.
type AllowAll struct{}

func NewAllowAll() *AllowAll { return &AllowAll{} }

func (AllowAll) IsAllowedBatch(ctx context.Context, queries []Query) ([]Decision, error) {
	decisions := make([]Decision, len(queries))
	for i, q := range queries {
		if q.Principal.ID == "" {
			decisions[i] = DenyForbidden
			continue
		}
		decisions[i] = Allow
	}
	return decisions, nil
}
