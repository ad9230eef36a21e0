// Package templating substitutes {dotted.path} tokens inside JSON shaped values.
package templating

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\{([\w.]+)\}`)

// Resolve returns a copy of value with every string leaf resolved against vars.
// Maps and slices are walked recursively; other scalars are returned unchanged.
func Resolve(value any, vars map[string]any) any {
	switch v := value.(type) {
	case string:
		return ResolveString(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Resolve(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, vars)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = ResolveString(item, vars)
		}
		return out
	default:
		return value
	}
}

// ResolveString replaces every token whose path exists in vars.
// Unknown paths and nil values keep the token as written.
func ResolveString(s string, vars map[string]any) string {
	if !strings.Contains(s, "{") {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := token[1 : len(token)-1]
		v, ok := Lookup(vars, path)
		if !ok || v == nil {
			return token
		}
		return render(v)
	})
}

// ResolveOr resolves template and falls back to it when the result is blank.
func ResolveOr(template string, vars map[string]any) string {
	if out := ResolveString(template, vars); strings.TrimSpace(out) != "" {
		return out
	}
	return template
}

// Lookup follows a dotted path through maps (by key) and slices (by index).
func Lookup(vars map[string]any, path string) (any, bool) {
	var cur any = vars
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		case []string:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func render(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int, int64, int32, bool:
		return fmt.Sprint(x)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
