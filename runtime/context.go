package runtime

import (
	"regexp"
	"strconv"
)

// pathSegmentRe mirrors the original Python implementation's finditer
// pattern: either a bracketed array index, or a bare/dotted key.
var pathSegmentRe = regexp.MustCompile(`\[(\d+)\]|\.?([^.\[\]]+)`)

// missingType is a distinct sentinel type so a caller can never confuse an
// absent path with a context value that is legitimately nil.
type missingType struct{}

// Missing is returned by Get when the path does not resolve. It is never
// equal to any value a flow document or HTTP response can produce.
var Missing = missingType{}

// IsMissing reports whether v is the Missing sentinel.
func IsMissing(v any) bool {
	_, ok := v.(missingType)
	return ok
}

// Get resolves a dotted/bracketed path against ctx, returning Missing if
// any segment fails to resolve. ctx may be a map[string]any or []any, to
// support extraction paths rooted at a parsed response body.
func Get(ctx any, path string) any {
	if path == "" {
		return Missing
	}
	switch ctx.(type) {
	case map[string]any, []any:
	default:
		return Missing
	}

	matches := pathSegmentRe.FindAllStringSubmatch(path, -1)
	if matches == nil {
		m, ok := ctx.(map[string]any)
		if !ok {
			return Missing
		}
		v, ok := m[path]
		if !ok {
			return Missing
		}
		return v
	}

	current := ctx
	for _, m := range matches {
		indexStr, keyStr := m[1], m[2]
		if indexStr != "" {
			idx, err := strconv.Atoi(indexStr)
			if err != nil {
				return Missing
			}
			list, ok := current.([]any)
			if !ok {
				return Missing
			}
			if idx < 0 || idx >= len(list) {
				return Missing
			}
			current = list[idx]
			continue
		}
		mp, ok := current.(map[string]any)
		if !ok {
			return Missing
		}
		v, found := mp[keyStr]
		if !found {
			return Missing
		}
		current = v
	}
	return current
}

// Set resolves a dotted/bracketed path against ctx and assigns value,
// creating intermediate maps as needed. It never creates or extends
// arrays: setting through a missing or wrong-typed list segment is a
// silent no-op (matching the Python implementation's logged-and-dropped
// behavior, minus the logging, which callers may add at the call site).
func Set(ctx map[string]any, path string, value any) {
	if path == "" || ctx == nil {
		return
	}

	matches := pathSegmentRe.FindAllStringSubmatch(path, -1)
	if matches == nil {
		ctx[path] = value
		return
	}

	target := any(ctx)
	for i, m := range matches {
		last := i == len(matches)-1
		indexStr, keyStr := m[1], m[2]

		if indexStr != "" {
			idx, err := strconv.Atoi(indexStr)
			if err != nil {
				return
			}
			list, ok := target.([]any)
			if !ok || idx < 0 || idx >= len(list) {
				return
			}
			if last {
				list[idx] = value
				return
			}
			target = list[idx]
			continue
		}

		mp, ok := target.(map[string]any)
		if !ok {
			return
		}
		if last {
			mp[keyStr] = value
			return
		}

		next, exists := mp[keyStr]
		nextWantsList := matches[i+1][1] != ""
		if !exists {
			if nextWantsList {
				// Paths never auto-create arrays.
				return
			}
			created := make(map[string]any)
			mp[keyStr] = created
			target = created
			continue
		}
		if nextWantsList {
			if _, ok := next.([]any); !ok {
				return
			}
		} else if _, ok := next.(map[string]any); !ok {
			return
		}
		target = next
	}
}
