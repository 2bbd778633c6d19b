package engine

import (
	"encoding/json"
	"regexp"

	"github.com/tidwall/gjson"
)

// templateRef matches a {{node.path}} reference, capturing node.path.
var templateRef = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// ResolveTemplates walks input (a tree of strings/maps/lists) and replaces
// {{node.path}} references with the referenced value from outputs, a map
// of nodeID to that node's output. A reference that is the entirety of a
// string is replaced in place, preserving the referenced value's type; a
// reference embedded in a larger string is stringified and substituted
// in place. A reference that does not resolve becomes an empty string —
// this is spec.md §9's documented behavior, not a bug to fix.
//
// Grounded on spec.md §9's own resolver description; no pack repo
// implements generic template-path interpolation (gjson supplies the path
// lookup; the surrounding walk is a few lines of stdlib).
func ResolveTemplates(input any, outputs map[string]map[string]any) any {
	switch v := input.(type) {
	case string:
		return resolveString(v, outputs)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = ResolveTemplates(val, outputs)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = ResolveTemplates(val, outputs)
		}
		return out
	default:
		return v
	}
}

func resolveString(s string, outputs map[string]map[string]any) any {
	matches := templateRef.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	// Whole-string match: preserve the referenced value's type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		return resolveRef(path, outputs)
	}

	var out []byte
	last := 0
	for _, m := range matches {
		out = append(out, s[last:m[0]]...)
		path := s[m[2]:m[3]]
		out = append(out, stringifyRef(resolveRef(path, outputs))...)
		last = m[1]
	}
	out = append(out, s[last:]...)
	return string(out)
}

// resolveRef resolves "node.path.into.output" against outputs, returning
// "" (as an empty string, spec-mandated) when the node or the path within
// its output does not exist.
func resolveRef(ref string, outputs map[string]map[string]any) any {
	nodeID, path, _ := splitFirst(ref, '.')
	output, ok := outputs[nodeID]
	if !ok {
		return ""
	}
	if path == "" {
		return output
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return ""
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return ""
	}
	return res.Value()
}

func splitFirst(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func stringifyRef(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
