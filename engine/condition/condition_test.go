package condition_test

import (
	"testing"

	"github.com/corewf/flowengine/engine/condition"
)

func TestEvalOperators(t *testing.T) {
	output := map[string]any{
		"status": "ok",
		"count":  float64(5),
		"tags":   []any{"a", "b"},
		"nested": map[string]any{"flag": true},
	}

	cases := []struct {
		name string
		cond condition.Condition
		want bool
	}{
		{"eq match", condition.Condition{Field: "status", Op: "eq", Value: "ok"}, true},
		{"eq mismatch", condition.Condition{Field: "status", Op: "eq", Value: "fail"}, false},
		{"neq", condition.Condition{Field: "status", Op: "neq", Value: "fail"}, true},
		{"gt numeric", condition.Condition{Field: "count", Op: "gt", Value: 3}, true},
		{"gt numeric false", condition.Condition{Field: "count", Op: "gt", Value: 10}, false},
		{"gte equal int vs float", condition.Condition{Field: "count", Op: "gte", Value: 5}, true},
		{"contains string", condition.Condition{Field: "status", Op: "contains", Value: "o"}, true},
		{"contains list", condition.Condition{Field: "tags", Op: "contains", Value: "a"}, true},
		{"starts_with", condition.Condition{Field: "status", Op: "starts_with", Value: "o"}, true},
		{"ends_with", condition.Condition{Field: "status", Op: "ends_with", Value: "k"}, true},
		{"matches regex", condition.Condition{Field: "status", Op: "matches", Value: "^o.$"}, true},
		{"exists true", condition.Condition{Field: "status", Op: "exists"}, true},
		{"exists false for missing", condition.Condition{Field: "missing", Op: "exists"}, false},
		{"not_exists for missing", condition.Condition{Field: "missing", Op: "not_exists"}, true},
		{"in", condition.Condition{Field: "status", Op: "in", Value: []any{"ok", "degraded"}}, true},
		{"not_in", condition.Condition{Field: "status", Op: "not_in", Value: []any{"fail"}}, true},
		{"is_empty false", condition.Condition{Field: "status", Op: "is_empty"}, false},
		{"is_not_empty", condition.Condition{Field: "status", Op: "is_not_empty"}, true},
		{"is_true nested", condition.Condition{Field: "nested.flag", Op: "is_true"}, true},
		{"is_false mismatch", condition.Condition{Field: "nested.flag", Op: "is_false"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := condition.Eval(tc.cond, output)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvalMissingFieldOnlySatisfiesNotExists(t *testing.T) {
	output := map[string]any{"a": 1}

	notExists, err := condition.Eval(condition.Condition{Field: "b", Op: "not_exists"}, output)
	if err != nil || !notExists {
		t.Fatalf("not_exists on missing field: got (%v, %v), want (true, nil)", notExists, err)
	}

	for _, op := range []string{"eq", "gt", "contains", "is_true"} {
		got, err := condition.Eval(condition.Condition{Field: "b", Op: op, Value: 1}, output)
		if err != nil {
			t.Fatalf("op %s: unexpected error %v", op, err)
		}
		if got {
			t.Errorf("op %s on missing field: want false, got true", op)
		}
	}
}

func TestEvalAllAny(t *testing.T) {
	output := map[string]any{"status": "ok", "count": float64(5)}

	all := condition.Condition{All: []condition.Condition{
		{Field: "status", Op: "eq", Value: "ok"},
		{Field: "count", Op: "gte", Value: 5},
	}}
	got, err := condition.Eval(all, output)
	if err != nil || !got {
		t.Fatalf("all: got (%v, %v), want (true, nil)", got, err)
	}

	any_ := condition.Condition{Any: []condition.Condition{
		{Field: "status", Op: "eq", Value: "fail"},
		{Field: "count", Op: "gte", Value: 5},
	}}
	got, err = condition.Eval(any_, output)
	if err != nil || !got {
		t.Fatalf("any: got (%v, %v), want (true, nil)", got, err)
	}
}
