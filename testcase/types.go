package testcase

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
)

// StringSet is a sorted, de-duplicated list of strings stored as a JSON array.
type StringSet []string

// NewStringSet normalizes values: trimmed, empty entries dropped, sorted, unique.
func NewStringSet(values ...string) StringSet {
	seen := make(map[string]struct{}, len(values))
	out := make(StringSet, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether v is in the set.
func (s StringSet) Contains(v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer.
func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *StringSet) Scan(value interface{}) error {
	b, err := scanBytes(value)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(b, s)
}

// JSONMap holds the optional structured form of a step.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value interface{}) error {
	b, err := scanBytes(value)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}

// String returns the string value stored under key, or "".
func (m JSONMap) String(key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key].(string)
	if !ok {
		return ""
	}
	return v
}

// Int returns the integer stored under key. JSON numbers arrive as
// float64 after a round-trip, so both are accepted along with numeric strings.
func (m JSONMap) Int(key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

// Bool returns the boolean stored under key.
func (m JSONMap) Bool(key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

// Map returns the object stored under key.
func (m JSONMap) Map(key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]interface{})
	return v
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("unsupported JSON column type")
	}
}
