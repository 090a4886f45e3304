package storage

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/hyperjump/docgate/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Match evaluates a store filter against doc. It supports field equality, $and, and the
// operators $regex/$options, $eq, $ne, $in, $exists, $gt, $gte, $lt and $lte. Embedded
// stores use it in place of a server-side query engine.
func Match(doc models.Document, filter bson.D) (bool, error) {
	for _, e := range filter {
		ok, err := matchElem(doc, e.Key, e.Value)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchElem(doc models.Document, key string, cond interface{}) (bool, error) {
	if key == "$and" {
		clauses, ok := cond.([]interface{})
		if !ok {
			if a, isA := cond.(bson.A); isA {
				clauses = []interface{}(a)
			} else {
				return false, fmt.Errorf("$and requires an array")
			}
		}
		for _, c := range clauses {
			sub, err := asD(c)
			if err != nil {
				return false, err
			}
			ok, err := Match(doc, sub)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}

	value, present := lookup(doc, key)
	ops, isOps := operators(cond)
	if !isOps {
		return equalsOrContains(value, cond), nil
	}
	for _, op := range ops {
		ok, err := matchOp(value, present, op.Key, op.Value, ops)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchOp(value interface{}, present bool, op string, arg interface{}, all bson.D) (bool, error) {
	switch op {
	case "$regex":
		return matchRegex(value, arg, optionsOf(all))
	case "$options":
		return true, nil
	case "$eq":
		return equalsOrContains(value, arg), nil
	case "$ne":
		return !equalsOrContains(value, arg), nil
	case "$in":
		rv := reflect.ValueOf(arg)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return false, fmt.Errorf("$in requires an array")
		}
		for i := 0; i < rv.Len(); i++ {
			if equalsOrContains(value, rv.Index(i).Interface()) {
				return true, nil
			}
		}
		return false, nil
	case "$exists":
		want, _ := arg.(bool)
		return present == want, nil
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false, nil
		}
		c, ok := compareSameKind(value, arg)
		if !ok {
			return false, nil
		}
		switch op {
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	default:
		return false, fmt.Errorf("unsupported operator %s", op)
	}
}

func optionsOf(ops bson.D) string {
	for _, e := range ops {
		if e.Key == "$options" {
			s, _ := e.Value.(string)
			return s
		}
	}
	return ""
}

func matchRegex(value interface{}, pattern interface{}, options string) (bool, error) {
	var expr string
	switch p := pattern.(type) {
	case string:
		expr = p
	case primitive.Regex:
		expr = p.Pattern
		options += p.Options
	default:
		return false, fmt.Errorf("$regex requires a string")
	}
	if strings.Contains(options, "i") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return false, fmt.Errorf("invalid regex %q: %w", expr, err)
	}
	switch v := value.(type) {
	case string:
		return re.MatchString(v), nil
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && re.MatchString(s) {
				return true, nil
			}
		}
	}
	return false, nil
}

// operators reports whether cond is an operator document such as {$regex: ..., $options: ...}.
func operators(cond interface{}) (bson.D, bool) {
	var d bson.D
	switch c := cond.(type) {
	case bson.D:
		d = c
	case bson.M:
		d = mapToD(c)
	case map[string]interface{}:
		d = mapToD(c)
	default:
		return nil, false
	}
	if len(d) == 0 {
		return nil, false
	}
	for _, e := range d {
		if !strings.HasPrefix(e.Key, "$") {
			return nil, false
		}
	}
	return d, true
}

func mapToD(m map[string]interface{}) bson.D {
	d := make(bson.D, 0, len(m))
	for k, v := range m {
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d
}

func asD(v interface{}) (bson.D, error) {
	switch c := v.(type) {
	case bson.D:
		return c, nil
	case bson.M:
		return mapToD(c), nil
	case map[string]interface{}:
		return mapToD(c), nil
	default:
		return nil, fmt.Errorf("expected a document, got %T", v)
	}
}

// lookup resolves a possibly dotted path.
func lookup(doc models.Document, path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case models.Document:
		return m, true
	case bson.M:
		return m, true
	}
	return nil, false
}

func equalsOrContains(value, want interface{}) bool {
	if valuesEqual(value, want) {
		return true
	}
	if arr, ok := value.([]interface{}); ok {
		for _, item := range arr {
			if valuesEqual(item, want) {
				return true
			}
		}
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// typeRank orders values of different kinds the way the server does for sorting.
func typeRank(v interface{}) int {
	if v == nil {
		return 0
	}
	if _, ok := toFloat(v); ok {
		return 1
	}
	switch v.(type) {
	case string:
		return 2
	case map[string]interface{}, models.Document, bson.M:
		return 3
	case []interface{}:
		return 4
	case primitive.ObjectID:
		return 5
	case bool:
		return 6
	case time.Time:
		return 7
	}
	return 8
}

// compareSameKind compares two values of the same kind.
func compareSameKind(a, b interface{}) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		return compareFloat(af, bf), true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case primitive.ObjectID:
		bv, ok := b.(primitive.ObjectID)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Hex(), bv.Hex()), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b || (math.IsNaN(a) && !math.IsNaN(b)):
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareForSort orders any two values: first by kind, then by value.
func compareForSort(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	c, _ := compareSameKind(a, b)
	return c
}
