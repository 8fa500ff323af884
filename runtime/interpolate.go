package runtime

import (
	"fmt"
	"regexp"
	"strings"
)

// bracePathRe matches {{path}} occurrences inside a string. Non-greedy so
// multiple tokens in one string are matched individually.
var bracePathRe = regexp.MustCompile(`\{\{([\w.\[\]]+?)\}\}`)

// Interpolate recursively walks strings, maps, and arrays, substituting
// {{path}} and whole-string ##VAR:type:path## tokens using ctx. Values of
// any other type are returned unchanged.
func Interpolate(data any, ctx map[string]any) any {
	switch v := data.(type) {
	case string:
		return interpolateString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			newKey := k
			if interpolated := interpolateString(k, ctx); interpolated != nil {
				if s, ok := interpolated.(string); ok {
					newKey = s
				}
			}
			out[newKey] = Interpolate(val, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Interpolate(item, ctx)
		}
		return out
	default:
		return data
	}
}

func interpolateString(s string, ctx map[string]any) any {
	if strings.HasPrefix(s, "##VAR:") && strings.HasSuffix(s, "##") {
		return interpolateVarToken(s, ctx)
	}

	matches := bracePathRe.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		pathStart, pathEnd := m[2], m[3]
		b.WriteString(s[last:start])

		path := strings.TrimSpace(s[pathStart:pathEnd])
		value := Get(ctx, path)
		switch {
		case IsMissing(value), value == nil:
			// empty string for both missing and explicit null
		default:
			b.WriteString(stringify(value))
		}
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

// interpolateVarToken handles the whole-string ##VAR:type:path## form.
// Malformed tokens return the literal string; unknown type keywords fall
// back to the string form.
func interpolateVarToken(s string, ctx map[string]any) any {
	inner := s[len("##VAR:") : len(s)-len("##")]
	parts := strings.SplitN(inner, ":", 2)
	if len(parts) != 2 {
		return s
	}
	varType, path := parts[0], parts[1]

	value := Get(ctx, path)
	if IsMissing(value) {
		if varType == "string" {
			return ""
		}
		return nil
	}

	switch varType {
	case "string":
		return stringify(value)
	case "unquoted":
		return value
	default:
		// An unknown type keyword with an otherwise well-formed path is null,
		// not a literal — only a failed split (no ':') falls back to the
		// original token.
		return nil
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
