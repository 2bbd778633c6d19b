// Package condition implements ConditionEval (spec.md §4.3): evaluation of
// edge predicates against an upstream node's output map, with dot-path
// field access grounded on tidwall/gjson the way r3e-network-service_layer
// uses it for JSON path extraction.
package condition

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Condition is a single predicate, or a logical grouping of predicates.
// Exactly one of (Field set) or (All/Any set) is meaningful per node —
// leaf predicates carry Field/Op/Value, groups carry All or Any.
type Condition struct {
	Field string `json:"field,omitempty"`
	Op    string `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`

	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
}

// absent is the sentinel a missing field path resolves to. It satisfies
// only the "not_exists" operator, per spec.md §4.3.
type absent struct{}

// Eval evaluates cond against output, an upstream node's output map.
func Eval(cond Condition, output map[string]any) (bool, error) {
	if len(cond.All) > 0 {
		for _, c := range cond.All {
			ok, err := Eval(c, output)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
	if len(cond.Any) > 0 {
		for _, c := range cond.Any {
			ok, err := Eval(c, output)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return evalLeaf(cond, output)
}

func evalLeaf(cond Condition, output map[string]any) (bool, error) {
	actual := lookup(output, cond.Field)

	switch cond.Op {
	case "exists":
		_, isAbsent := actual.(absent)
		return !isAbsent, nil
	case "not_exists":
		_, isAbsent := actual.(absent)
		return isAbsent, nil
	}

	if _, isAbsent := actual.(absent); isAbsent {
		// Every other operator is false against a missing field.
		return false, nil
	}

	switch cond.Op {
	case "eq":
		return compareEqual(actual, cond.Value), nil
	case "neq":
		return !compareEqual(actual, cond.Value), nil
	case "gt", "lt", "gte", "lte":
		return compareOrdered(cond.Op, actual, cond.Value)
	case "contains":
		return stringOrSliceContains(actual, cond.Value), nil
	case "not_contains":
		return !stringOrSliceContains(actual, cond.Value), nil
	case "starts_with":
		return strings.HasPrefix(toString(actual), toString(cond.Value)), nil
	case "ends_with":
		return strings.HasSuffix(toString(actual), toString(cond.Value)), nil
	case "matches":
		re, err := regexp.Compile(toString(cond.Value))
		if err != nil {
			return false, fmt.Errorf("condition: invalid regex %q: %w", cond.Value, err)
		}
		return re.MatchString(toString(actual)), nil
	case "in":
		return memberOf(actual, cond.Value), nil
	case "not_in":
		return !memberOf(actual, cond.Value), nil
	case "is_empty":
		return isEmpty(actual), nil
	case "is_not_empty":
		return !isEmpty(actual), nil
	case "is_true":
		b, ok := actual.(bool)
		return ok && b, nil
	case "is_false":
		b, ok := actual.(bool)
		return ok && !b, nil
	default:
		return false, fmt.Errorf("condition: unknown operator %q", cond.Op)
	}
}

// lookup resolves a dot-path field (e.g. "result.status", "data.items[0].name")
// against output, returning absent{} when the path does not resolve.
func lookup(output map[string]any, field string) any {
	if field == "" {
		return absent{}
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return absent{}
	}
	res := gjson.GetBytes(raw, field)
	if !res.Exists() {
		return absent{}
	}
	return res.Value()
}

func compareEqual(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) && sameKind(a, b)
}

// sameKind avoids "5" == 5.0 producing a false positive from the naive
// string comparison above, without pulling in reflect.DeepEqual's stricter
// type exactness (JSON numbers always decode to float64, so int vs float64
// literal values in a workflow definition must still compare equal).
func sameKind(a, b any) bool {
	_, aIsNum := asFloat(a)
	_, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		af, _ := asFloat(a)
		bf, _ := asFloat(b)
		return af == bf
	}
	return aIsNum == bIsNum
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func compareOrdered(op string, a, b any) (bool, error) {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if !aok || !bok {
		return false, fmt.Errorf("condition: operator %q requires numeric operands, got %T and %T", op, a, b)
	}
	switch op {
	case "gt":
		return af > bf, nil
	case "lt":
		return af < bf, nil
	case "gte":
		return af >= bf, nil
	case "lte":
		return af <= bf, nil
	}
	return false, fmt.Errorf("condition: unreachable operator %q", op)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func stringOrSliceContains(actual, value any) bool {
	if s, ok := actual.(string); ok {
		return strings.Contains(s, toString(value))
	}
	if items, ok := actual.([]any); ok {
		for _, item := range items {
			if compareEqual(item, value) {
				return true
			}
		}
	}
	return false
}

func memberOf(actual, value any) bool {
	items, ok := value.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if compareEqual(actual, item) {
			return true
		}
	}
	return false
}

func isEmpty(actual any) bool {
	switch v := actual.(type) {
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	case nil:
		return true
	}
	return false
}
