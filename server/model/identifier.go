// Package model holds the decomposed, server-owned representation of
// Iceberg table and view metadata. Nothing here is a wire type; JSON tags
// exist only where a value round-trips into a metadata.json document or a
// REST response body.
package model

import "strings"

// Identifier is a warehouse-scoped path: one or more namespace segments
// followed by a tabular name, or just namespace segments for a namespace
// identifier. Segments are case-preserved for display; callers that need
// the collation key should use Identifier.Key.
type Identifier struct {
	WarehouseID string
	Namespace   []string
	Name        string // empty for a bare namespace identifier
}

// Key returns the case-insensitive lookup key for the identifier, matching
// the storage collation rule: storage
// and lookup are case-insensitive, display is case-preserving.
func (id Identifier) Key() string {
	segs := make([]string, 0, len(id.Namespace)+1)
	for _, s := range id.Namespace {
		segs = append(segs, strings.ToLower(s))
	}
	if id.Name != "" {
		segs = append(segs, strings.ToLower(id.Name))
	}
	return strings.Join(segs, "\x1f")
}

// NamespacePath joins the namespace segments with the multipart separator
// used at the REST protocol edge (unit separator \x1f, matching the
// upstream Iceberg REST namespace encoding).
func NamespacePath(segments []string) string {
	return strings.Join(segments, "\x1f")
}

func SplitNamespacePath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "\x1f")
}
