package migrate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/tatianab/chronicle/internal/models"
)

// Accessors for untyped documents. Each one tolerates the value being absent
// or of the wrong type and reports that through its ok result, so upgrade
// functions stay total over drifted documents.

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case models.RawDocument:
		return map[string]any(m), true
	}
	return nil, false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case int, int64, float64:
		n, _ := asNumber(v)
		return strconv.FormatFloat(n, 'f', -1, 64), true
	}
	return "", false
}

// asNumber accepts every numeric type a JSON or YAML decoder may produce, and
// numeric strings such as "40" or "40%".
func asNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		p, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "%"))
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asInt(v any) (int, bool) {
	f, ok := asNumber(v)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

func getMap(m map[string]any, key string) map[string]any {
	v, _ := asMap(m[key])
	return v
}

func getSlice(m map[string]any, key string) []any {
	v, _ := asSlice(m[key])
	return v
}

func getString(m map[string]any, key string) string {
	v, _ := asString(m[key])
	return v
}

func getInt(m map[string]any, key string, def int) int {
	if v, ok := asInt(m[key]); ok {
		return v
	}
	return def
}

func getBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// rename moves m[from] to m[to] unless to is already set.
func rename(m map[string]any, from, to string) {
	v, ok := m[from]
	if !ok {
		return
	}
	delete(m, from)
	if _, exists := m[to]; !exists {
		m[to] = v
	}
}

// slug turns a display name into an id: "Old Mill" -> "old-mill".
func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
