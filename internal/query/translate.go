// Package query translates client filter, sort, field and paging parameters into
// store-native query parts.
package query

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// MatchMode selects how string values are matched.
type MatchMode int

const (
	// Contains matches the value anywhere in the field.
	Contains MatchMode = iota
	// Prefix matches the value at the start of the field.
	Prefix
)

func (m MatchMode) String() string {
	if m == Prefix {
		return "prefix"
	}
	return "contains"
}

// Data types accepted in a structured predicate.
const (
	DataTypeText   = "text"
	DataTypeNumber = "number"
	DataTypeExact  = "exact"
)

// Keys of a structured predicate value.
const (
	keyDataType = "data_type"
	keySearchBy = "search_by"
)

// ReservedKeys are request parameters that never become filters.
var ReservedKeys = []string{"database", "collection", "page", "page_records", "fields", "sort"}

// Translator builds store predicates from filter specifications.
type Translator struct {
	mode     MatchMode
	reserved map[string]struct{}
	literal  bool
}

// TranslatorOption configures a Translator.
type TranslatorOption func(*Translator)

// WithReserved adds keys to the reserved set.
func WithReserved(keys ...string) TranslatorOption {
	return func(t *Translator) {
		for _, k := range keys {
			t.reserved[k] = struct{}{}
		}
	}
}

// WithLiteralPatterns quotes regex metacharacters in client values.
// Off by default: clients of the service rely on passing patterns through.
func WithLiteralPatterns() TranslatorOption {
	return func(t *Translator) { t.literal = true }
}

// NewTranslator returns a translator for mode. ReservedKeys are always excluded.
func NewTranslator(mode MatchMode, opts ...TranslatorOption) *Translator {
	t := &Translator{mode: mode, reserved: make(map[string]struct{}, len(ReservedKeys))}
	for _, k := range ReservedKeys {
		t.reserved[k] = struct{}{}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate converts filter into a predicate. Clauses are ordered by field name so equal
// inputs give equal predicates. Malformed predicates are dropped, never reported.
func (t *Translator) Translate(filter map[string]interface{}) bson.D {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if _, reserved := t.reserved[k]; reserved {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := bson.D{}
	for _, key := range keys {
		if clause, ok := t.clause(filter[key]); ok {
			out = append(out, bson.E{Key: key, Value: clause})
		}
	}
	return out
}

func (t *Translator) clause(value interface{}) (interface{}, bool) {
	if isEmpty(value) {
		return nil, false
	}
	switch v := value.(type) {
	case map[string]interface{}:
		return t.structured(v)
	case string:
		return t.regex(v, t.mode), true
	default:
		return v, true
	}
}

// structured handles {data_type, search_by}. Text predicates always use contains matching.
func (t *Translator) structured(p map[string]interface{}) (interface{}, bool) {
	searchBy, ok := p[keySearchBy]
	if !ok || searchBy == nil {
		return nil, false
	}
	dataType := DataTypeText
	if dt, ok := p[keyDataType].(string); ok && dt != "" {
		dataType = strings.ToLower(dt)
	}
	switch dataType {
	case DataTypeText:
		s, ok := textValue(searchBy)
		if !ok {
			return nil, false
		}
		return t.regex(s, Contains), true
	case DataTypeNumber:
		return NumberClause(searchBy)
	case DataTypeExact:
		return searchBy, true
	default:
		return nil, false
	}
}

// textValue renders a scalar search value as the text a regex predicate matches.
func textValue(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case int, int32, int64, bool:
		return fmt.Sprint(val), true
	default:
		return "", false
	}
}

func (t *Translator) regex(value string, mode MatchMode) bson.M {
	if t.literal {
		value = regexp.QuoteMeta(value)
	}
	pattern := ".*" + value + ".*"
	if mode == Prefix {
		pattern = "^" + value
	}
	return bson.M{"$regex": pattern, "$options": "i"}
}

func isEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	}
	return false
}
