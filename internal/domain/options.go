package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Options is the tool-specific configuration bag submitted with a job.
type Options map[string]any

// Clone copies the top level of the bag.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	cp := make(Options, len(o))
	for k, v := range o {
		cp[k] = v
	}
	return cp
}

// Has reports whether key is present with a non-nil value.
func (o Options) Has(key string) bool {
	v, ok := o[key]
	return ok && v != nil
}

// String returns the option as a trimmed string, or fallback.
func (o Options) String(key, fallback string) string {
	switch v := o[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case float64, int, int64, json.Number:
		return fmt.Sprint(v)
	}
	return fallback
}

// Int returns the option as an integer. The second result is false when the
// key is absent or not a whole number.
func (o Options) Int(key string) (int, bool) {
	return toInt(o[key])
}

// Ints returns the option as an integer list. A comma separated string such
// as "3,1,2" is accepted as well as a JSON array.
func (o Options) Ints(key string) ([]int, error) {
	raw, ok := o[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []any:
		out := make([]int, 0, len(v))
		for _, item := range v {
			n, ok := toInt(item)
			if !ok {
				return nil, fmt.Errorf("%s: %v is not a whole number", key, item)
			}
			out = append(out, n)
		}
		return out, nil
	case []int:
		return append([]int(nil), v...), nil
	case string:
		var out []int
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not a whole number", key, part)
			}
			out = append(out, n)
		}
		return out, nil
	default:
		if n, ok := toInt(v); ok {
			return []int{n}, nil
		}
		return nil, fmt.Errorf("%s: unsupported value %v", key, raw)
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}
