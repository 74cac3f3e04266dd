// Package render expands environment references in profile templates.
package render

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"
)

// EnvTracker tracks referenced environment variables during rendering.
type EnvTracker struct {
	missing map[string]struct{}
	used    map[string]struct{}
}

func (t *EnvTracker) markUsed(key string) {
	if t.used == nil {
		t.used = map[string]struct{}{}
	}
	t.used[key] = struct{}{}
}

func (t *EnvTracker) markMissing(key string) {
	if t.missing == nil {
		t.missing = map[string]struct{}{}
	}
	t.missing[key] = struct{}{}
}

// Missing returns the sorted names of variables referenced with env but unset.
func (t *EnvTracker) Missing() []string {
	return sortedKeys(t.missing)
}

// Used returns the sorted names of every referenced variable.
func (t *EnvTracker) Used() []string {
	return sortedKeys(t.used)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// RenderFile loads and renders a profile template from disk.
func RenderFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return RenderBytes(path, raw, os.LookupEnv)
}

// RenderBytes renders a profile template. Variables read with env must be
// set; envOr supplies a fallback.
func RenderBytes(name string, raw []byte, lookup LookupFunc) ([]byte, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	tracker := &EnvTracker{}
	if strings.TrimSpace(name) == "" {
		name = "profile"
	}
	tmpl, err := template.New(name).Funcs(FuncMap(tracker, lookup)).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]any{})
	if missing := tracker.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("missing env vars: %s", strings.Join(missing, ", "))
	}
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return buf.Bytes(), nil
}
