// Package tools defines the runtime tool contract, the registry that
// resolves declarative tool lists, and the built-in tool factories.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is the interface every runtime tool implements. The handler variants
// behind it (built-ins, project tools, MCP peers, sandbox executors,
// knowledge stores) form an open sum; the registry only cares about this
// surface.
type Tool interface {
	// Name returns the tool name advertised to the model. Unique within a
	// resolved tool set.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Invoke runs the tool with model-supplied arguments and returns its
	// textual output.
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// UserInterruptError is the distinguished error a tool raises to request
// human input. It propagates past the tool loop unchanged; the caller is
// responsible for persisting in-flight state and later resumption.
type UserInterruptError struct {
	Message string
}

func (e *UserInterruptError) Error() string {
	return fmt.Sprintf("user interrupt: %s", e.Message)
}

// Func adapts a function to the Tool interface.
type Func struct {
	ToolName        string
	ToolDescription string
	ToolSchema      json.RawMessage
	Fn              func(ctx context.Context, args json.RawMessage) (string, error)
}

func (f *Func) Name() string            { return f.ToolName }
func (f *Func) Description() string     { return f.ToolDescription }
func (f *Func) Schema() json.RawMessage { return f.ToolSchema }

func (f *Func) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return f.Fn(ctx, args)
}
