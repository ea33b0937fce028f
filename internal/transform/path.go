package transform

import "strings"

// getPath reads a dotted path from a nested map. A missing segment returns
// nil, false; it is never an error.
func getPath(data map[string]any, path string) (any, bool) {
	if path == "" || data == nil {
		return nil, false
	}

	segments := strings.Split(path, ".")
	var current any = data

	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// setPath writes a value into a nested map at a dotted path, creating
// intermediate objects as needed. An intermediate segment holding a
// non-map value is overwritten with a fresh object.
func setPath(data map[string]any, path string, value any) {
	if path == "" || data == nil {
		return
	}

	segments := strings.Split(path, ".")
	current := data

	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[seg] = next
		}
		current = next
	}

	current[segments[len(segments)-1]] = value
}
