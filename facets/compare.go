package facets

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// CompareValues compares two values and returns:
//
//	-1 if left < right
//	 0 if left == right
//	 1 if left > right
//
// Handles nil (less than any non-nil value), all Go integer widths,
// float32/float64, string, bool and time.Time. Numeric types compare
// across widths. Mismatched kinds fall back to comparing their string forms.
func CompareValues(left, right interface{}) int {
	if left == nil && right == nil {
		return 0
	}
	if left == nil {
		return -1
	}
	if right == nil {
		return 1
	}

	if l, ok := numeric(left); ok {
		if r, ok := numeric(right); ok {
			return compareFloats(l, r)
		}
		// Numbers sort before everything else
		return -1
	}

	switch l := left.(type) {
	case string:
		if r, ok := right.(string); ok {
			return strings.Compare(l, r)
		}
	case bool:
		if r, ok := right.(bool); ok {
			if !l && r {
				return -1
			} else if l && !r {
				return 1
			}
			return 0
		}
	case time.Time:
		if r, ok := right.(time.Time); ok {
			if l.Before(r) {
				return -1
			} else if l.After(r) {
				return 1
			}
			return 0
		}
	}

	if _, ok := numeric(right); ok {
		return 1
	}

	// Fall back to string comparison for unknown or mismatched types
	return strings.Compare(fmt.Sprint(left), fmt.Sprint(right))
}

// ValuesEqual checks if two values are equal using CompareValues.
func ValuesEqual(a, b interface{}) bool {
	return CompareValues(a, b) == 0
}

// ToFloat converts a numeric value (or a numeric string) to float64.
// Returns false for nil, non-numeric values and non-finite floats.
func ToFloat(v interface{}) (float64, bool) {
	if f, ok := numeric(v); ok {
		return f, isFinite(f)
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || !isFinite(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// NormalizeKey maps a value onto a comparable map key so that values that
// compare equal land in the same categorical aggregate (int(3) and
// int64(3) for instance).
func NormalizeKey(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if f, ok := numeric(v); ok {
		return f
	}
	switch k := v.(type) {
	case string, bool:
		return k
	case time.Time:
		return k.UnixNano()
	}
	return fmt.Sprint(v)
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// compareFloats compares two float64 values
func compareFloats(a, b float64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
