package graph

import "fmt"

// Payload is the schema-less data carried by an extracted snapshot.
//
// Callers read it only through the accessors below, which treat a missing
// or wrongly typed field as absent instead of failing.
type Payload map[string]any

// DTKeysField is the payload field listing the artifact-local keys.
const DTKeysField = "dt_keys"

// Value returns the raw value stored under key.
func (p Payload) Value(key string) any {
	if p == nil {
		return nil
	}
	return p[key]
}

// String returns the value under key if it is a string.
func (p Payload) String(key string) (string, bool) {
	s, ok := p.Value(key).(string)
	return s, ok
}

// List returns the value under key if it is a list, or nil.
func (p Payload) List(key string) []any {
	list, _ := AsList(p.Value(key))
	return list
}

// StringList returns the string elements of the list under key.
// Non-string elements are skipped.
func (p Payload) StringList(key string) []string {
	var out []string
	for _, v := range p.List(key) {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// DTKeys returns the snapshot's artifact-local keys.
func (p Payload) DTKeys() []string {
	return p.StringList(DTKeysField)
}

// AsMap reports whether v is an object and returns it.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Payload:
		return m, true
	}
	return nil, false
}

// AsList reports whether v is a list and returns its elements.
func AsList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	case []Payload:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

// Truthy mirrors the loose notion of "set" used by snapshot producers:
// nil, false, zero numbers, empty strings and empty collections are unset.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	}
	if l, ok := AsList(v); ok {
		return len(l) > 0
	}
	if m, ok := AsMap(v); ok {
		return len(m) > 0
	}
	return true
}

// Describe returns the generic string form used as a fallback identity.
func Describe(v any) string {
	return fmt.Sprint(v)
}
