// ABOUTME: Typed accessors for the free-form params mapping of a Request
// ABOUTME: Missing or mistyped values surface as ErrInvalidRequest

package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RequiredString returns params[key] as a non-empty string.
func (r Request) RequiredString(key string) (string, error) {
	v, ok := r.Params[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing required parameter %q", ErrInvalidRequest, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: parameter %q must be a string", ErrInvalidRequest, key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: parameter %q must not be empty", ErrInvalidRequest, key)
	}
	return s, nil
}

// RequiredText returns params[key] exactly as sent. Unlike RequiredString it
// does not trim, so opaque payloads such as prompts keep their whitespace; a
// value that is blank after trimming is still rejected.
func (r Request) RequiredText(key string) (string, error) {
	v, ok := r.Params[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing required parameter %q", ErrInvalidRequest, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: parameter %q must be a string", ErrInvalidRequest, key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: parameter %q must not be empty", ErrInvalidRequest, key)
	}
	return s, nil
}

// OptionalString returns params[key] as a string, or "" when absent.
func (r Request) OptionalString(key string) (string, error) {
	v, ok := r.Params[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: parameter %q must be a string", ErrInvalidRequest, key)
	}
	return strings.TrimSpace(s), nil
}

// OptionalInt returns params[key] as an int, or def when absent. Integral
// JSON numbers and numeric strings are accepted.
func (r Request) OptionalInt(key string, def int) (int, error) {
	v, ok := r.Params[key]
	if !ok || v == nil {
		return def, nil
	}
	var f float64
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: parameter %q must be an integer", ErrInvalidRequest, key)
		}
		return int(i), nil
	case float64:
		f = n
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%w: parameter %q must be an integer", ErrInvalidRequest, key)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%w: parameter %q must be an integer", ErrInvalidRequest, key)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: parameter %q must be an integer", ErrInvalidRequest, key)
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: parameter %q is out of range", ErrInvalidRequest, key)
	}
	return int(f), nil
}

// StringMap returns params[key] as a map of strings. Non-string scalar values
// are stringified; nested objects and arrays are rejected.
func (r Request) StringMap(key string) (map[string]string, error) {
	v, ok := r.Params[key]
	if !ok || v == nil {
		return map[string]string{}, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		if typed, ok := v.(map[string]string); ok {
			out := make(map[string]string, len(typed))
			for k, s := range typed {
				out[k] = s
			}
			return out, nil
		}
		return nil, fmt.Errorf("%w: parameter %q must be an object", ErrInvalidRequest, key)
	}
	out := make(map[string]string, len(raw))
	for k, item := range raw {
		switch s := item.(type) {
		case string:
			out[k] = s
		case json.Number:
			out[k] = s.String()
		case bool, float64, int, int64:
			out[k] = fmt.Sprint(s)
		case nil:
			out[k] = ""
		default:
			return nil, fmt.Errorf("%w: parameter %q.%s must be a scalar", ErrInvalidRequest, key, k)
		}
	}
	return out, nil
}
