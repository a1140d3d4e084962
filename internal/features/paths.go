package features

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Lookup resolves a dotted path (e.g. "system.cpuUsage") in a nested metric
// tree and converts the leaf to float64. Non-numeric and non-finite leaves
// report false.
func Lookup(tree map[string]any, path string) (float64, bool) {
	if tree == nil || path == "" {
		return 0, false
	}
	var node any = tree
	for _, key := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return 0, false
		}
		node, ok = m[key]
		if !ok {
			return 0, false
		}
	}
	return toFloat(node)
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// SplitPath returns the path segments of a dotted metric path.
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}

// ValidPath reports whether path is a non-empty dotted identifier path.
func ValidPath(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range SplitPath(path) {
		if seg == "" {
			return false
		}
		for _, r := range seg {
			if !(r == '_' || r == '-' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
				return false
			}
		}
	}
	return true
}
