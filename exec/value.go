package exec

import (
	"fmt"
	"strconv"

	"github.com/mgttt/ndtsdb/index"
)

// toFloat64 coerces a boxed scalar to float64 for arithmetic. nil
// propagates as 0, matching the permissive null-arithmetic the
// engine's grammar does not otherwise define.
func toFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float32:
		return int64(x), true
	case float64:
		return int64(x), true
	}
	return 0, false
}

func toBool(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case nil:
		return false
	case float64:
		return x != 0
	case int64:
		return x != 0
	default:
		return v != nil
	}
}

// toDisplayString renders a boxed value for string concatenation and
// LIKE matching.
func toDisplayString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// compareValues orders two boxed scalars using the index package's
// normalized Value comparator, reused here so SQL comparisons agree
// exactly with the index layer's notion of ordering.
func compareValues(a, b interface{}) int {
	return index.Compare(index.FromAny(a), index.FromAny(b))
}

func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return compareValues(a, b) == 0
}
