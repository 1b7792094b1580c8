package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/teslashibe/bobbys-table/pkg/nlu"
)

// Args are the decoded arguments of a call. Values arrive as whatever the
// model produced, so the accessors accept numbers as strings and the
// other way round.
type Args map[string]any

// Has reports whether key is present and not empty.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String returns the value as trimmed text.
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// First returns the first non-empty string among keys.
func (a Args) First(keys ...string) string {
	for _, k := range keys {
		if s := a.String(k); s != "" {
			return s
		}
	}
	return ""
}

// Int returns the value as an integer. Spoken numbers such as "four" are
// accepted.
func (a Args) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f), true
		}
		return nlu.ParseNumber(s)
	}
	return 0, false
}

// Bool returns the value as a boolean; "yes" and "true" count as true.
func (a Args) Bool(key string) (bool, bool) {
	switch v := a[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0":
			return false, true
		}
	case float64:
		return v != 0, true
	}
	return false, false
}

// Decode unmarshals the value at key into v.
func (a Args) Decode(key string, v any) error {
	raw, ok := a[key]
	if !ok || raw == nil {
		return nil
	}
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		return json.Unmarshal([]byte(s), v)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
