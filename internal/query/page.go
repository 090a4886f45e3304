package query

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hyperjump/docgate/internal/apperr"
)

// Page is a 1-based page number and page size.
type Page struct {
	Number int
	Size   int
}

// Skip returns the number of documents before the page.
func (p Page) Skip() int64 {
	return int64(p.Number-1) * int64(p.Size)
}

// Limit returns the page size.
func (p Page) Limit() int64 {
	return int64(p.Size)
}

// ParsePage reads page and page_records from params. Absent values take page 1 and
// defaultSize; each operation passes its own documented default.
func ParsePage(params map[string]interface{}, defaultSize int) (Page, error) {
	number, err := intParam(params, "page", 1)
	if err != nil {
		return Page{}, err
	}
	size, err := intParam(params, "page_records", defaultSize)
	if err != nil {
		return Page{}, err
	}
	if number < 1 {
		return Page{}, apperr.Validation("page must be >= 1")
	}
	if size < 1 {
		return Page{}, apperr.Validation("page_records must be >= 1")
	}
	return Page{Number: number, Size: size}, nil
}

func intParam(params map[string]interface{}, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, apperr.Validation("%s must be an integer", key)
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, apperr.Validation("%s must be an integer", key)
		}
		return n, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return def, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, apperr.Validation("%s must be an integer", key)
		}
		return n, nil
	default:
		return 0, apperr.Validation("%s must be an integer, got %s", key, fmt.Sprintf("%T", raw))
	}
}
