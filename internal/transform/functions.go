package transform

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// Func is a pure transformation function invoked with the mapped value and
// the mapping's configured arguments. Functions never mutate their input.
type Func func(value any, args ...any) (any, error)

var ifscPattern = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)

// builtinFunctions returns the standard function catalogue. Callers may
// register additional functions at runtime; duplicate names overwrite
// silently.
func builtinFunctions() map[string]Func {
	return map[string]Func{
		// String functions
		"uppercase": func(v any, _ ...any) (any, error) {
			return strings.ToUpper(toString(v)), nil
		},
		"lowercase": func(v any, _ ...any) (any, error) {
			return strings.ToLower(toString(v)), nil
		},
		"trim": func(v any, _ ...any) (any, error) {
			return strings.TrimSpace(toString(v)), nil
		},
		"substring": fnSubstring,
		"replace": func(v any, args ...any) (any, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("replace requires old and new arguments")
			}
			return strings.ReplaceAll(toString(v), toString(args[0]), toString(args[1])), nil
		},
		"padLeft":  fnPad(true),
		"padRight": fnPad(false),

		// Numeric functions
		"parseNumber": func(v any, _ ...any) (any, error) {
			n, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("parseNumber: %q is not numeric", toString(v))
			}
			return n, nil
		},
		"round": fnRound,
		"abs": func(v any, _ ...any) (any, error) {
			n, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("abs: %q is not numeric", toString(v))
			}
			return math.Abs(n), nil
		},
		"formatCurrency": fnFormatCurrency,

		// Date functions
		"formatDate": fnFormatDate,
		"addDays":    fnAddDays,
		"now": func(_ any, _ ...any) (any, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		},

		// Array functions
		"join": fnJoin,
		"split": func(v any, args ...any) (any, error) {
			sep := ","
			if len(args) > 0 {
				sep = toString(args[0])
			}
			parts := strings.Split(toString(v), sep)
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return out, nil
		},
		"first": func(v any, _ ...any) (any, error) {
			if a, ok := v.([]any); ok && len(a) > 0 {
				return a[0], nil
			}
			return nil, nil
		},
		"last": func(v any, _ ...any) (any, error) {
			if a, ok := v.([]any); ok && len(a) > 0 {
				return a[len(a)-1], nil
			}
			return nil, nil
		},
		"length": func(v any, _ ...any) (any, error) {
			switch t := v.(type) {
			case []any:
				return float64(len(t)), nil
			case string:
				return float64(len(t)), nil
			case map[string]any:
				return float64(len(t)), nil
			case nil:
				return float64(0), nil
			}
			return float64(len(toString(v))), nil
		},

		// Null handling
		"ifNull": func(v any, args ...any) (any, error) {
			if v == nil && len(args) > 0 {
				return args[0], nil
			}
			return v, nil
		},
		"ifEmpty": func(v any, args ...any) (any, error) {
			if (v == nil || toString(v) == "") && len(args) > 0 {
				return args[0], nil
			}
			return v, nil
		},
		"conditional": func(v any, args ...any) (any, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("conditional requires then and else arguments")
			}
			truthy, _ := toBool(v)
			if truthy {
				return args[0], nil
			}
			return args[1], nil
		},

		// Banking helpers
		"formatAccountNumber": fnFormatAccountNumber,
		"validateIFSC": func(v any, _ ...any) (any, error) {
			return ifscPattern.MatchString(toString(v)), nil
		},
		"formatPAN": func(v any, _ ...any) (any, error) {
			return strings.ToUpper(strings.ReplaceAll(toString(v), " ", "")), nil
		},
		"maskAccountNumber": fnMaskAccountNumber,
	}
}

func fnSubstring(v any, args ...any) (any, error) {
	s := toString(v)
	if len(args) == 0 {
		return s, nil
	}

	start := 0
	if n, ok := toFloat(args[0]); ok {
		start = int(n)
	}
	end := len(s)
	if len(args) > 1 {
		if n, ok := toFloat(args[1]); ok {
			end = int(n)
		}
	}

	if start < 0 {
		start = 0
	}
	if end > len(s) {
		end = len(s)
	}
	if start >= end {
		return "", nil
	}
	return s[start:end], nil
}

func fnPad(left bool) Func {
	return func(v any, args ...any) (any, error) {
		if len(args) == 0 {
			return toString(v), nil
		}

		width := 0
		if n, ok := toFloat(args[0]); ok {
			width = int(n)
		}
		pad := " "
		if len(args) > 1 && toString(args[1]) != "" {
			pad = toString(args[1])
		}

		s := toString(v)
		for len(s) < width {
			if left {
				s = pad + s
			} else {
				s = s + pad
			}
		}
		return s, nil
	}
}

func fnRound(v any, args ...any) (any, error) {
	n, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("round: %q is not numeric", toString(v))
	}

	decimals := 0
	if len(args) > 0 {
		if d, ok := toFloat(args[0]); ok {
			decimals = int(d)
		}
	}

	factor := math.Pow(10, float64(decimals))
	return math.Round(n*factor) / factor, nil
}

// fnFormatCurrency renders a number with two decimals and an optional
// currency prefix, e.g. formatCurrency(1234.5, "INR") -> "INR 1234.50".
func fnFormatCurrency(v any, args ...any) (any, error) {
	n, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("formatCurrency: %q is not numeric", toString(v))
	}

	formatted := fmt.Sprintf("%.2f", n)
	if len(args) > 0 {
		return toString(args[0]) + " " + formatted, nil
	}
	return formatted, nil
}

func fnFormatDate(v any, args ...any) (any, error) {
	t, err := toDate(v, "")
	if err != nil {
		return nil, fmt.Errorf("formatDate: %w", err)
	}

	layout := time.RFC3339
	if len(args) > 0 {
		layout = toString(args[0])
	}
	return t.Format(layout), nil
}

func fnAddDays(v any, args ...any) (any, error) {
	t, err := toDate(v, "")
	if err != nil {
		return nil, fmt.Errorf("addDays: %w", err)
	}

	days := 0
	if len(args) > 0 {
		if n, ok := toFloat(args[0]); ok {
			days = int(n)
		}
	}
	return t.AddDate(0, 0, days).Format(time.RFC3339), nil
}

func fnJoin(v any, args ...any) (any, error) {
	a, ok := v.([]any)
	if !ok {
		return toString(v), nil
	}

	sep := ","
	if len(args) > 0 {
		sep = toString(args[0])
	}

	parts := make([]string, len(a))
	for i, e := range a {
		parts[i] = toString(e)
	}
	return strings.Join(parts, sep), nil
}

// fnFormatAccountNumber groups account digits in blocks of four,
// e.g. "1234567890" -> "1234 5678 90".
func fnFormatAccountNumber(v any, _ ...any) (any, error) {
	s := strings.ReplaceAll(toString(v), " ", "")

	var b strings.Builder
	for i, r := range s {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

// fnMaskAccountNumber reveals only the last N digits (default 4) and
// replaces the rest with '*'. Inputs shorter than N are returned unchanged.
func fnMaskAccountNumber(v any, args ...any) (any, error) {
	s := toString(v)

	visible := 4
	if len(args) > 0 {
		if n, ok := toFloat(args[0]); ok {
			visible = int(n)
		}
	}

	if len(s) <= visible {
		return s, nil
	}
	return strings.Repeat("*", len(s)-visible) + s[len(s)-visible:], nil
}
