package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opencompliance/corelink/internal/domain"
)

// coerce converts a transformed value to its declared data type. DATE
// accepts an optional Go layout in format; an empty format falls back to
// RFC 3339.
func coerce(value any, dataType domain.DataType, format string) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch dataType {
	case domain.TypeString, "":
		return toString(value), nil

	case domain.TypeNumber:
		n, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("cannot coerce %T to NUMBER", value)
		}
		return n, nil

	case domain.TypeBoolean:
		return toBool(value)

	case domain.TypeDate:
		return toDate(value, format)

	case domain.TypeObject:
		if m, ok := value.(map[string]any); ok {
			return m, nil
		}
		if s, ok := value.(string); ok {
			var m map[string]any
			if err := json.Unmarshal([]byte(s), &m); err != nil {
				return nil, fmt.Errorf("cannot coerce string to OBJECT: %w", err)
			}
			return m, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to OBJECT", value)

	case domain.TypeArray:
		if a, ok := value.([]any); ok {
			return a, nil
		}
		return []any{value}, nil

	default:
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "y", "yes":
			return true, nil
		case "false", "0", "n", "no", "":
			return false, nil
		}
		return false, fmt.Errorf("cannot coerce %q to BOOLEAN", v)
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot coerce %T to BOOLEAN", value)
	}
}

func toDate(value any, format string) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		layout := format
		if layout == "" {
			layout = time.RFC3339
		}
		t, err := time.Parse(layout, v)
		if err != nil && layout != time.RFC3339 {
			// Tolerate RFC 3339 input even when a layout is configured.
			if t2, err2 := time.Parse(time.RFC3339, v); err2 == nil {
				return t2, nil
			}
		}
		return t, err
	case float64:
		// Epoch milliseconds, the convention of the upstream rule store.
		return time.UnixMilli(int64(v)).UTC(), nil
	case int64:
		return time.UnixMilli(v).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot coerce %T to DATE", value)
	}
}
