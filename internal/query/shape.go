package query

import (
	"strings"

	"github.com/hyperjump/docgate/internal/models"
)

// Direction is a sort direction in store form.
type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// Sort is a single-field sort.
type Sort struct {
	Field     string
	Direction Direction
}

// ParseSort reads {sort_by, direction}. It returns nil when no field is named.
// "desc" in any case sorts descending; anything else ascending.
func ParseSort(spec interface{}) *Sort {
	m, ok := spec.(map[string]interface{})
	if !ok {
		return nil
	}
	field, _ := m["sort_by"].(string)
	if field == "" {
		return nil
	}
	dir := Ascending
	if d, ok := m["direction"].(string); ok && strings.EqualFold(d, "desc") {
		dir = Descending
	}
	return &Sort{Field: field, Direction: dir}
}

// Projection returns the fields to include. Nil means all fields. When fields are named,
// the identifier comes first and duplicates are dropped.
func Projection(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	out := []string{models.IDField}
	seen := map[string]bool{models.IDField: true}
	named := 0
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		named++
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	if named == 0 {
		return nil
	}
	return out
}

// Fields reads a "fields" parameter into a string list, ignoring non-string entries.
func Fields(raw interface{}) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
