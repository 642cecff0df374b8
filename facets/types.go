// Package facets holds the value types shared by the exploration engine:
// raw rows, attribute values, measure types, compare slots and errors.
//
// The engine itself lives in facets/engine. It keeps per-aggregate
// accumulators for Total, Active and Compare_A..E consistent as filters
// and comparison selections change, without rescanning the dataset.
package facets

import (
	"fmt"
	"sort"
	"strings"
)

// Row is one raw input row as supplied by the loading collaborator.
// Keys are column names; values are any scalar (see compare.go for the
// types that order and compare meaningfully).
type Row map[string]interface{}

// Get returns the column value and whether the column was present.
func (r Row) Get(column string) (Value, bool) {
	v, ok := r[column]
	return v, ok
}

// String returns a stable representation with columns in sorted order
func (r Row) String() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, r[k])
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Value is a cached, per-attribute scalar derived from a Row.
// nil means "no value" and places the record in the attribute's
// no-value aggregate.
type Value = interface{}

// ValueFunc derives an attribute value from a raw row.
// It must be pure: the engine calls it once per record per partition.
type ValueFunc func(Row) Value

// Column returns a ValueFunc that reads a single column.
// Missing columns and empty strings yield nil.
func Column(name string) ValueFunc {
	return func(row Row) Value {
		v, ok := row[name]
		if !ok {
			return nil
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return nil
		}
		return v
	}
}
