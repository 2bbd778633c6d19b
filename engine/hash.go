package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// StableDigest computes a deterministic, order-independent digest of input,
// truncated to 16 hex characters, for use as a result-cache key. Grounded
// on script-weaver's internal/graph/hash.go (canonical JSON + SHA-256 +
// hex) and on the teacher's own computeOrderKey SHA-256 discipline;
// extended here with explicit key sorting before marshaling so that two
// maps built in different insertion order produce the same digest (Go's
// encoding/json already sorts map keys, but StableDigest makes that
// guarantee explicit and independent of that implementation detail).
func StableDigest(nodeType string, input map[string]any) (string, error) {
	canonical, err := canonicalize(input)
	if err != nil {
		return "", newError(KindInvalidWorkflow, "failed to canonicalize input for hashing", err)
	}
	payload, err := json.Marshal(struct {
		NodeType string `json:"node_type"`
		Input    any    `json:"input"`
	}{nodeType, canonical})
	if err != nil {
		return "", newError(KindInvalidWorkflow, "failed to marshal input for hashing", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16], nil
}

// canonicalize walks v and returns an equivalent value whose map keys are
// ordered, so that json.Marshal produces byte-identical output regardless
// of the original map's iteration order (relying solely on encoding/json's
// built-in map-key sort would be enough today, but making it explicit means
// StableDigest does not silently change behavior if that ever changes).
func canonicalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			c, err := canonicalize(val[k])
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			c, err := canonicalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	default:
		return val, nil
	}
}
