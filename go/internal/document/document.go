// Package document holds helpers for the dynamically typed GameState value:
// a JSON object decoded into map[string]any with explicit path access.
package document

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Map is a decoded JSON object.
type Map = map[string]any

// Normalize converts any JSON-encodable Go value into the shapes produced by
// encoding/json decoding into an any (map[string]any, []any, float64, string,
// bool, nil). Stored values are always normalized so copies are cheap and
// nothing outside the document aliases its contents.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return out, nil
}

// Clone deep-copies a normalized value.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// CloneMap deep-copies m. A nil map clones to an empty one.
func CloneMap(m Map) Map {
	if m == nil {
		return Map{}
	}
	return Clone(m).(map[string]any)
}

// Merge deep-merges src into dst in place. Nested objects merge key by key,
// every other value (scalars, null and sequences) replaces what dst held.
// Sequences are never concatenated or merged by index.
func Merge(dst, src Map) {
	for k, sv := range src {
		srcObj, srcIsObj := sv.(map[string]any)
		dstObj, dstIsObj := dst[k].(map[string]any)
		if srcIsObj && dstIsObj {
			Merge(dstObj, srcObj)
			continue
		}
		dst[k] = Clone(sv)
	}
}

// SetPath returns a copy of doc with value set at the dotted path, creating
// intermediate objects as needed. A nil value deletes the key. Path
// components are literal keys; only "." separates them.
func SetPath(doc Map, path string, value any) (Map, error) {
	keys, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	value, err = Normalize(value)
	if err != nil {
		return nil, fmt.Errorf("set %q: %w", path, err)
	}

	out := CloneMap(doc)
	parent := out
	for _, k := range keys[:len(keys)-1] {
		child, ok := parent[k].(map[string]any)
		if !ok {
			if value == nil {
				// Nothing to delete below a missing object.
				return out, nil
			}
			child = map[string]any{}
			parent[k] = child
		}
		parent = child
	}

	leaf := keys[len(keys)-1]
	if value == nil {
		delete(parent, leaf)
	} else {
		parent[leaf] = value
	}
	return out, nil
}

// GetPath reads the value at a dotted path. ok is false when nothing exists
// there.
func GetPath(doc Map, path string) (any, bool) {
	keys, err := splitPath(path)
	if err != nil {
		return nil, false
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, false
	}
	for i, k := range keys {
		keys[i] = gjson.Escape(k)
	}
	res := gjson.GetBytes(data, strings.Join(keys, "."))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

func splitPath(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrEmptyPath
	}
	keys := strings.Split(path, ".")
	for _, k := range keys {
		if k == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return keys, nil
}

// Int reads a numeric top-level key, accepting numbers and numeric strings.
func Int(doc Map, key string) (int, bool) {
	v, ok := doc[key]
	if !ok || v == nil {
		return 0, false
	}
	res := gjson.Parse(mustJSON(v))
	switch res.Type {
	case gjson.Number:
		return int(res.Int()), true
	case gjson.String:
		n := gjson.Parse(res.Str)
		if n.Type == gjson.Number {
			return int(n.Int()), true
		}
	}
	return 0, false
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
