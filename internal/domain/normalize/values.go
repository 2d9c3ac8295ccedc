package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Truthy interprets a boolean-like cell. Blank, zero, "false" and "no" are
// false; anything else present is true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		switch s {
		case "", "0", "false", "no", "null":
			return false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f != 0
		}
		return true
	}
	if f, ok := Number(v); ok {
		return f != 0
	}
	return true
}

// Number interprets a numeric cell: numbers or numeric strings. Blank and
// non-numeric values report false.
func Number(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Text interprets a string cell.
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

// IsEmptyComment reports whether a comment cell is a placeholder for "no
// comment": blank, or nothing but hyphens and dashes.
func IsEmptyComment(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	for _, r := range s {
		switch {
		case r == '-', r == '—', r == '–':
		case unicode.IsSpace(r):
		default:
			return false
		}
	}
	return true
}
