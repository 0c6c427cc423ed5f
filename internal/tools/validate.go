package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// validatedTool gates a tool behind a compiled JSON Schema. Arguments that
// fail validation are rejected by the tool itself; the loop records the
// failure as an error tool message and the model sees it as context.
type validatedTool struct {
	inner  Tool
	schema *jsonschema.Schema
	raw    json.RawMessage
}

// WithSchemaValidation wraps tool so model-supplied arguments are validated
// against the declared schema before the tool runs. The declared schema also
// replaces the tool's advertised schema.
func WithSchemaValidation(tool Tool, schema map[string]any) (Tool, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("args.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	compiled, err := compiler.Compile("args.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &validatedTool{inner: tool, schema: compiled, raw: raw}, nil
}

func (t *validatedTool) Name() string            { return t.inner.Name() }
func (t *validatedTool) Description() string     { return t.inner.Description() }
func (t *validatedTool) Schema() json.RawMessage { return t.raw }

func (t *validatedTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return "", fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := t.schema.Validate(value); err != nil {
		return "", fmt.Errorf("arguments failed schema validation: %v", err)
	}
	return t.inner.Invoke(ctx, args)
}
