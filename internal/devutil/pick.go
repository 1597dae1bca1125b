// Package devutil holds helpers for the command line tools.
package devutil

import (
	"strings"

	"github.com/goccy/go-json"
)

// Pick round-trips v through JSON and keeps only the requested keys.
// Anything that fails to encode yields an empty map.
func Pick(v any, keys ...string) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}

	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if val, ok := m[k]; ok {
			out[k] = val
		}
	}
	return out
}

// Fields splits a -fields flag value such as "id, title,status".
func Fields(v string) []string {
	var out []string
	for _, f := range strings.Split(v, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
