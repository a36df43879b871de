package rules

import "strings"

// Record is a per-product flattened mapping of column name to value.
// Values are strings, or []string for multi-valued attributes (galleries,
// tags). Records are assembled fresh per product and never persisted.
type Record map[string]any

// Value returns the raw value for a column, or "" when absent.
func (r Record) Value(col string) any {
	if v, ok := r[col]; ok {
		return v
	}
	return ""
}

// String returns the column rendered as a single string. Array values are
// joined with a space so substring conditions match any element.
func (r Record) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, " ")
	default:
		return ""
	}
}

// Strings returns the column as a slice: array values as-is, scalar
// values as a one-element slice, absent columns as nil.
func (r Record) Strings(col string) []string {
	switch v := r[col].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	default:
		return nil
	}
}
