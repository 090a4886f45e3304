package query

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// NumberClause coerces v into a numeric equality value. Strings containing a decimal
// point become float64, other strings int64. Numbers pass through. The second result
// is false when v cannot be coerced; callers drop the clause rather than fail the query.
func NumberClause(v interface{}) (interface{}, bool) {
	switch n := v.(type) {
	case string:
		s := strings.TrimSpace(n)
		if strings.Contains(s, ".") {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, false
			}
			return f, true
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, false
		}
		return i, true
	case json.Number:
		return NumberClause(n.String())
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n), true
		}
		return n, true
	case float32:
		return float64(n), true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return nil, false
	}
}
