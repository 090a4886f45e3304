package ingest

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// RowValidator returns an error describing why a row is invalid, or nil.
type RowValidator func(Row) error

// NoValidation accepts every row.
func NoValidation(Row) error { return nil }

// RequiredPositive rejects rows where required is empty or positive is not a number
// greater than zero.
func RequiredPositive(required, positive string) RowValidator {
	return func(r Row) error {
		if v, ok := r[required]; !ok || v == nil || v == "" {
			return fmt.Errorf("%s is required", capitalize(required))
		}
		n, ok := number(r[positive])
		if !ok || n <= 0 {
			return fmt.Errorf("%s must be greater than zero", capitalize(positive))
		}
		return nil
	}
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
