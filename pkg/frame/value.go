package frame

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Compare orders two values. NULL sorts first; values of different types are
// ordered by kind, then by their string form.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return compareFloat(x, y)
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	}

	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		if ka < kb {
			return -1
		}

		return 1
	}

	return strings.Compare(FormatValue(a), FormatValue(b))
}

func compareFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// KindOf returns the kind of a single value
func KindOf(v any) Kind {
	switch v.(type) {
	case float64:
		return KindFloat
	case bool:
		return KindBool
	case time.Time:
		return KindTime
	case string:
		return KindString
	default:
		return KindAny
	}
}

// ToFloat converts numeric and boolean values to float64
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) {
			return 0, false
		}

		return t, true
	case bool:
		if t {
			return 1, true
		}

		return 0, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// FormatValue renders a value as a string
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Convert coerces a value into the given kind, returning nil when impossible
func Convert(v any, kind Kind) any {
	if v == nil {
		return nil
	}

	switch kind {
	case KindFloat:
		if f, ok := ToFloat(v); ok {
			return f
		}

		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f
			}
		}

		return nil
	case KindBool:
		switch t := v.(type) {
		case bool:
			return t
		case float64:
			return t != 0
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return b
			}
		}

		return nil
	case KindTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC()
		case string:
			if ts, err := ParseTime(t); err == nil {
				return ts
			}
		case float64:
			// Numeric timestamps are nanoseconds since the epoch.
			return time.Unix(0, int64(t)).UTC()
		}

		return nil
	case KindString:
		return FormatValue(v)
	default:
		return v
	}
}

//nolint:gochecknoglobals // accepted timestamp layouts
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp layouts produced by the analytics stores
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}

		lastErr = err
	}

	return time.Time{}, lastErr
}
