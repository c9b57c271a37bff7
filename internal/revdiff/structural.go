package revdiff

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"

	"github.com/Benny93/twinscope/internal/graph"
)

// volatileKeys never take part in a content hash. They carry tool
// metadata and timestamps that change on every extraction.
var volatileKeys = map[string]bool{
	"tool_info":  true,
	"errors":     true,
	"timestamp":  true,
	"created_at": true,
	"updated_at": true,
}

func structuralDiff(oldObj, newObj *graph.ExtractedObject) Structural {
	if oldObj.Kind != newObj.Kind {
		return Structural{KindMismatch: &KindMismatch{Old: oldObj.Kind, New: newObj.Kind}}
	}

	switch newObj.Kind {
	case graph.KindKiCadECAD:
		return Structural{KiCadDelta: kicadDiff(oldObj.Data, newObj.Data)}
	case graph.KindFreeCADTree:
		return Structural{FreeCADDelta: freecadDiff(oldObj.Data, newObj.Data)}
	}
	return Structural{HashDelta: hashDiff(oldObj.Data, newObj.Data)}
}

func kicadDiff(oldData, newData graph.Payload) *KiCadDelta {
	oldComponents := componentIdentities(componentList(oldData))
	newComponents := componentIdentities(componentList(newData))
	oldNets := netIdentities(oldData.Value("nets"))
	newNets := netIdentities(newData.Value("nets"))

	return &KiCadDelta{
		ComponentsAdded:   difference(newComponents, oldComponents),
		ComponentsRemoved: difference(oldComponents, newComponents),
		NetsAdded:         difference(newNets, oldNets),
		NetsRemoved:       difference(oldNets, newNets),
	}
}

// componentList prefers "components" and falls back to "parts" when the
// former is unset.
func componentList(data graph.Payload) any {
	if v := data.Value("components"); graph.Truthy(v) {
		return v
	}
	return data.Value("parts")
}

func componentIdentities(v any) map[string]bool {
	ids := make(map[string]bool)
	list, _ := graph.AsList(v)
	for _, comp := range list {
		if m, ok := graph.AsMap(comp); ok {
			ref := m["ref"]
			if !graph.Truthy(ref) {
				ref = m["reference"]
			}
			if s, ok := ref.(string); ok {
				ids[s] = true
				continue
			}
		}
		ids[identity(comp)] = true
	}
	return ids
}

func netIdentities(v any) map[string]bool {
	ids := make(map[string]bool)
	list, _ := graph.AsList(v)
	for _, net := range list {
		if m, ok := graph.AsMap(net); ok {
			if name, ok := m["name"].(string); ok {
				ids[name] = true
				continue
			}
		}
		ids[identity(net)] = true
	}
	return ids
}

func freecadDiff(oldData, newData graph.Payload) *FreeCADDelta {
	oldPaths := treePaths(oldData.Value("tree"))
	newPaths := treePaths(newData.Value("tree"))
	return &FreeCADDelta{
		TreeNodesAdded:   difference(newPaths, oldPaths),
		TreeNodesRemoved: difference(oldPaths, newPaths),
	}
}

// treePaths flattens a feature tree into slash-joined paths.
//
// Object nodes contribute their name (or label) and descend into their
// children; lists are walked in place; string leaves and any other scalar
// contribute their string form under the current prefix.
func treePaths(tree any) map[string]bool {
	paths := make(map[string]bool)
	if !graph.Truthy(tree) {
		return paths
	}

	type item struct {
		node   any
		prefix []string
	}
	stack := []item{{node: tree}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if m, ok := graph.AsMap(cur.node); ok {
			name := m["name"]
			if !graph.Truthy(name) {
				name = m["label"]
			}
			prefix := cur.prefix
			if s, ok := name.(string); ok {
				prefix = appendPath(cur.prefix, s)
				paths[strings.Join(prefix, "/")] = true
			}
			if children, ok := graph.AsList(m["children"]); ok {
				for _, child := range children {
					stack = append(stack, item{node: child, prefix: prefix})
				}
			}
			continue
		}

		if list, ok := graph.AsList(cur.node); ok {
			for _, child := range list {
				stack = append(stack, item{node: child, prefix: cur.prefix})
			}
			continue
		}

		paths[strings.Join(appendPath(cur.prefix, identity(cur.node)), "/")] = true
	}
	return paths
}

// appendPath returns prefix+segment without sharing prefix's backing array.
func appendPath(prefix []string, segment string) []string {
	out := make([]string, len(prefix), len(prefix)+1)
	copy(out, prefix)
	return append(out, segment)
}

func hashDiff(oldData, newData graph.Payload) *HashDelta {
	oldHash, newHash := contentHash(oldData), contentHash(newData)
	return &HashDelta{
		DataHashOld: oldHash,
		DataHashNew: newHash,
		HashChanged: oldHash != newHash,
	}
}

// contentHash is the SHA-256 of the payload's canonical JSON form with
// volatile keys removed at every level. encoding/json sorts map keys, so
// equal content always hashes equally. Values that cannot be encoded fall
// back to their string form.
func contentHash(data graph.Payload) string {
	var normalized []byte
	encoded, err := json.Marshal(stripVolatile(map[string]any(data)))
	if err != nil {
		normalized = []byte(graph.Describe(map[string]any(data)))
	} else {
		normalized = encoded
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])
}

func stripVolatile(v any) any {
	if m, ok := graph.AsMap(v); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			if volatileKeys[k] {
				continue
			}
			out[k] = stripVolatile(val)
		}
		return out
	}
	if list, ok := graph.AsList(v); ok {
		out := make([]any, len(list))
		for i, val := range list {
			out[i] = stripVolatile(val)
		}
		return out
	}
	return v
}

// identity is the string form used when an element has no usable name.
func identity(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return graph.Describe(v)
}

// difference returns the sorted members of a that are not in b. The
// result is never nil so that it encodes as an empty list.
func difference(a, b map[string]bool) []string {
	out := make([]string, 0)
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

func intersection(a, b map[string]bool) []string {
	out := make([]string, 0)
	for k := range a {
		if b[k] {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
