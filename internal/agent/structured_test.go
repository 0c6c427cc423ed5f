package agent

import (
	"reflect"
	"testing"
)

func TestExtractStructuredOutput(t *testing.T) {
	cases := []struct {
		name    string
		message any
		want    any
	}{
		{
			"string parses as json",
			`{"a":1}`,
			map[string]any{"a": float64(1)},
		},
		{
			"string falls back to content wrapper",
			"plain text",
			map[string]any{"content": "plain text"},
		},
		{
			"object without content passes through",
			map[string]any{"a": "b"},
			map[string]any{"a": "b"},
		},
		{
			"string content parses",
			map[string]any{"content": `{"x":true}`},
			map[string]any{"x": true},
		},
		{
			"object content returned",
			map[string]any{"content": map[string]any{"y": "z"}},
			map[string]any{"y": "z"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractStructuredOutput(tc.message)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestValidateShape(t *testing.T) {
	schema := map[string]any{
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "number"},
			"tags": map[string]any{"type": "array"},
		},
	}

	cases := []struct {
		name   string
		output any
		want   bool
	}{
		{"valid", map[string]any{"name": "Alice", "age": float64(30)}, true},
		{"missing required", map[string]any{"age": float64(30)}, false},
		{"wrong type", map[string]any{"name": "Alice", "age": "30"}, false},
		{"extra properties allowed", map[string]any{"name": "A", "extra": 1}, true},
		{"array property", map[string]any{"name": "A", "tags": []any{"x"}}, true},
		{"non-object output", "just text", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateShape(tc.output, schema); got != tc.want {
				t.Errorf("ValidateShape = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidateShapeDoesNotRecurse(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"meta": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"inner": map[string]any{"type": "number"},
				},
			},
		},
	}
	// Inner mismatch is invisible to the shape check.
	output := map[string]any{"meta": map[string]any{"inner": "not a number"}}
	if !ValidateShape(output, schema) {
		t.Error("top-level object check should not recurse")
	}
}
