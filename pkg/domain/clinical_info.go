package domain

import (
	"math"
	"strconv"
	"strings"
)

// ClinicalInfo is the open field map of one clinical record. Values are
// strings, float64 numbers, booleans, or lists of those.
type ClinicalInfo map[string]any

// IsEmpty reports whether the map holds no values.
func (c ClinicalInfo) IsEmpty() bool {
	return len(c) == 0
}

// Clone returns a copy with list values copied. Nil stays nil.
func (c ClinicalInfo) Clone() ClinicalInfo {
	if c == nil {
		return nil
	}
	out := make(ClinicalInfo, len(c))
	for k, v := range c {
		switch val := v.(type) {
		case []string:
			out[k] = append([]string(nil), val...)
		case []float64:
			out[k] = append([]float64(nil), val...)
		case []bool:
			out[k] = append([]bool(nil), val...)
		case []any:
			out[k] = append([]any(nil), val...)
		default:
			out[k] = v
		}
	}
	return out
}

// String renders a scalar field as a string; absent fields yield "".
func (c ClinicalInfo) String(field string) string {
	switch v := c[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Number returns a numeric field. Strings are parsed; anything else is NaN.
func (c ClinicalInfo) Number(field string) float64 {
	switch v := c[field].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return math.NaN()
		}
		return n
	default:
		return math.NaN()
	}
}

// Strings returns a field as a list of strings. Scalars become a one element
// list; absent fields yield nil.
func (c ClinicalInfo) Strings(field string) []string {
	switch v := c[field].(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := c.String(field); s != "" {
			return []string{s}
		}
		return nil
	}
}

// Has reports whether field holds a non-empty value.
func (c ClinicalInfo) Has(field string) bool {
	switch v := c[field].(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case []string:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return true
	}
}

// Without returns a copy that omits the given fields.
func (c ClinicalInfo) Without(fields ...string) ClinicalInfo {
	out := c.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}
