package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

var truthy = map[string]bool{"true": true, "yes": true, "on": true, "1": true}
var falsy = map[string]bool{"false": true, "no": true, "off": true, "0": true}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func toInt(key string, v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case uint64:
		return int(t), nil
	case float64:
		if t == float64(int(t)) {
			return int(t), nil
		}
		return 0, coercionError(key, v, "int")
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, coercionError(key, v, "int")
		}
		return n, nil
	case bool:
		return 0, coercionError(key, v, "int")
	default:
		return 0, coercionError(key, v, "int")
	}
}

func toFloat(key string, v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, coercionError(key, v, "float")
		}
		return f, nil
	default:
		return 0, coercionError(key, v, "float")
	}
}

func toBool(key string, v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		lower := strings.ToLower(strings.TrimSpace(t))
		if truthy[lower] {
			return true, nil
		}
		if falsy[lower] {
			return false, nil
		}
		return false, coercionError(key, v, "bool")
	case int:
		if t == 1 {
			return true, nil
		}
		if t == 0 {
			return false, nil
		}
		return false, coercionError(key, v, "bool")
	default:
		return false, coercionError(key, v, "bool")
	}
}

func toDuration(key string, v interface{}) (time.Duration, error) {
	switch t := v.(type) {
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(t))
		if err != nil {
			// A bare numeric string is interpreted as milliseconds.
			if n, numErr := strconv.Atoi(strings.TrimSpace(t)); numErr == nil {
				return time.Duration(n) * time.Millisecond, nil
			}
			return 0, coercionError(key, v, "duration")
		}
		return d, nil
	case int:
		return time.Duration(t) * time.Millisecond, nil
	case int64:
		return time.Duration(t) * time.Millisecond, nil
	case float64:
		return time.Duration(t) * time.Millisecond, nil
	default:
		return 0, coercionError(key, v, "duration")
	}
}

func toStringSlice(key string, v interface{}) ([]string, error) {
	switch t := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, toString(item))
		}
		return out, nil
	case []string:
		return t, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return []string{}, nil
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out, nil
	default:
		return nil, coercionError(key, v, "string slice")
	}
}

// CoerceInt applies the store's integer coercion rules to a raw value. The
// key is used only for error messages.
func CoerceInt(key string, v interface{}) (int, error) { return toInt(key, v) }

// CoerceFloat applies the store's float coercion rules to a raw value.
func CoerceFloat(key string, v interface{}) (float64, error) { return toFloat(key, v) }

// CoerceBool applies the store's boolean coercion rules to a raw value.
func CoerceBool(key string, v interface{}) (bool, error) { return toBool(key, v) }

// CoerceDuration applies the store's duration coercion rules to a raw value.
func CoerceDuration(key string, v interface{}) (time.Duration, error) { return toDuration(key, v) }

// CoerceStringSlice applies the store's sequence coercion rules to a raw
// value.
func CoerceStringSlice(key string, v interface{}) ([]string, error) { return toStringSlice(key, v) }

func coercionError(key string, v interface{}, want string) error {
	return pkgerrors.Newf(pkgerrors.KindConfiguration,
		"configuration key %q holds %v (%T), which cannot be coerced to %s", key, v, v, want).
		WithDetail("key", key).
		WithDetail("value", fmt.Sprint(v)).
		WithDetail("expected", want)
}
