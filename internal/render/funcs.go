package render

import (
	"strconv"
	"strings"
	"text/template"
)

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// FuncMap returns template helpers for profile rendering.
func FuncMap(tracker *EnvTracker, lookup LookupFunc) template.FuncMap {
	return template.FuncMap{
		"env": func(key string) string {
			tracker.markUsed(key)
			value, ok := lookup(key)
			if !ok {
				tracker.markMissing(key)
				return ""
			}
			return value
		},
		"envOr": func(key, def string) string {
			tracker.markUsed(key)
			if value, ok := lookup(key); ok {
				return value
			}
			return def
		},
		"default": func(def, value string) string {
			if value == "" {
				return def
			}
			return value
		},
		"split": func(sep, value string) []string {
			if value == "" {
				return nil
			}
			return strings.Split(value, sep)
		},
		"join": func(sep string, items []string) string {
			return strings.Join(items, sep)
		},
		// quote emits a YAML double-quoted scalar.
		"quote":      strconv.Quote,
		"lower":      strings.ToLower,
		"upper":      strings.ToUpper,
		"trimPrefix": strings.TrimPrefix,
		"trimSuffix": strings.TrimSuffix,
		"replace":    strings.ReplaceAll,
	}
}
