package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// StringArg returns a required string argument.
func StringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", &ArgumentError{Name: key, Reason: "is required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ArgumentError{Name: key, Reason: fmt.Sprintf("must be a string, got %T", v)}
	}
	return s, nil
}

// StringArgOr returns a string argument or def when it is absent or empty.
func StringArgOr(args map[string]any, key, def string) (string, error) {
	if v, ok := args[key]; !ok || v == nil || v == "" {
		return def, nil
	}
	return StringArg(args, key)
}

// IntArg returns a required integer argument. JSON numbers arrive as
// float64; integral values and numeric strings are accepted.
func IntArg(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, &ArgumentError{Name: key, Reason: "is required"}
	}
	return toInt(key, v)
}

func toInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, &ArgumentError{Name: key, Reason: fmt.Sprintf("must be an integer, got %v", n)}
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, &ArgumentError{Name: key, Reason: fmt.Sprintf("must be an integer, got %s", n)}
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, &ArgumentError{Name: key, Reason: fmt.Sprintf("must be an integer, got %q", n)}
		}
		return i, nil
	default:
		return 0, &ArgumentError{Name: key, Reason: fmt.Sprintf("must be an integer, got %T", v)}
	}
}

// ObjectListArg returns a required array of objects.
func ObjectListArg(args map[string]any, key string) ([]map[string]any, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, &ArgumentError{Name: key, Reason: "is required"}
	}
	items, ok := v.([]any)
	if !ok {
		return nil, &ArgumentError{Name: key, Reason: fmt.Sprintf("must be an array, got %T", v)}
	}
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, &ArgumentError{Name: fmt.Sprintf("%s[%d]", key, i), Reason: fmt.Sprintf("must be an object, got %T", item)}
		}
		out = append(out, obj)
	}
	return out, nil
}

// LinesArg returns an array-of-strings argument. A single string is split
// on newlines; an absent key yields no lines.
func LinesArg(args map[string]any, key string) ([]string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch lines := v.(type) {
	case string:
		return strings.Split(lines, "\n"), nil
	case []any:
		out := make([]string, 0, len(lines))
		for i, line := range lines {
			s, ok := line.(string)
			if !ok {
				return nil, &ArgumentError{Name: fmt.Sprintf("%s[%d]", key, i), Reason: fmt.Sprintf("must be a string, got %T", line)}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &ArgumentError{Name: key, Reason: fmt.Sprintf("must be an array of strings, got %T", v)}
	}
}
