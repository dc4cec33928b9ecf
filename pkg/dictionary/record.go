package dictionary

import (
	"strconv"
	"strings"
)

// ToRawRecord renders stored, typed values back into the raw string form the
// processor accepts, so persisted data can be re-checked against another
// dictionary version. Lists stay lists; nil values are dropped.
func ToRawRecord(values map[string]any) Record {
	out := make(Record, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case nil:
			continue
		case []string:
			out[k] = append([]string(nil), val...)
		case []float64:
			strs := make([]string, 0, len(val))
			for _, n := range val {
				strs = append(strs, formatNumber(n))
			}
			out[k] = strs
		case []bool:
			strs := make([]string, 0, len(val))
			for _, b := range val {
				strs = append(strs, strconv.FormatBool(b))
			}
			out[k] = strs
		case []any:
			strs := make([]string, 0, len(val))
			for _, item := range val {
				strs = append(strs, rawScalar(item))
			}
			out[k] = strs
		default:
			out[k] = rawScalar(val)
		}
	}
	return out
}

func rawScalar(v any) string {
	switch val := v.(type) {
	case float64:
		return formatNumber(val)
	case bool:
		return strconv.FormatBool(val)
	case string:
		return val
	default:
		return strings.TrimSpace(stringifyScalar(val))
	}
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
