package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/maestro/pkg/models"
)

// ChatModel is the provider-agnostic chat completion contract.
//
// Implementations must be safe for concurrent use and must not retain
// per-call state on the shared instance. BindTools and WithStructuredOutput
// return derived views; they never mutate the receiver, so a cached model
// can be shared by all concurrent invocations.
type ChatModel interface {
	// Invoke sends the conversation and returns the complete response.
	Invoke(ctx context.Context, messages []models.Message) (*Response, error)

	// Stream sends the conversation and returns a channel of deltas. The
	// channel is closed when the stream ends; a delta with Err set
	// terminates the stream. Tool-call arguments are accumulated inside
	// the adapter and surface only as complete calls.
	Stream(ctx context.Context, messages []models.Message) (<-chan Delta, error)

	// BindTools returns a view of this model that advertises the given
	// tools to the provider.
	BindTools(tools []ToolSpec) ChatModel

	// WithStructuredOutput returns a view of this model that instructs the
	// provider to emit JSON conforming to schema.
	WithStructuredOutput(schema map[string]any) (ChatModel, error)

	// Name returns the provider name.
	Name() string
}

// ToolSpec describes a tool advertised to the provider.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Delta is one increment of a streamed response. Content and Reasoning
// arrive incrementally; ToolCalls carry complete calls (arguments already
// assembled and parsed); Usage arrives on the final delta when the provider
// reports it.
type Delta struct {
	Content   string
	Reasoning string
	ToolCalls []models.ToolCall
	Usage     *models.Usage
	Err       error
}

// Response is a complete model response.
type Response struct {
	Content   string
	Reasoning string
	ToolCalls []models.ToolCall
	Usage     *models.Usage
}

// collect drives a stream to completion and folds the deltas into a single
// Response. All adapters implement Invoke in terms of their Stream.
func collect(ctx context.Context, m ChatModel, messages []models.Message) (*Response, error) {
	deltas, err := m.Stream(ctx, messages)
	if err != nil {
		return nil, err
	}

	resp := &Response{}
	var content, reasoning strings.Builder
	for delta := range deltas {
		if delta.Err != nil {
			return nil, delta.Err
		}
		content.WriteString(delta.Content)
		reasoning.WriteString(delta.Reasoning)
		resp.ToolCalls = append(resp.ToolCalls, delta.ToolCalls...)
		if delta.Usage != nil {
			if resp.Usage == nil {
				resp.Usage = &models.Usage{}
			}
			resp.Usage.Add(delta.Usage)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp.Content = content.String()
	resp.Reasoning = reasoning.String()
	return resp, nil
}

// splitSystem extracts the system prompt from the message list. System
// messages accumulate in order and join with a blank line; the remaining
// messages are returned unchanged.
func splitSystem(messages []models.Message) (string, []models.Message) {
	var system []string
	rest := make([]models.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			system = append(system, msg.Text())
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}

// structuredOutputInstruction renders the system suffix used by adapters
// without a native JSON-schema mode.
func structuredOutputInstruction(schema map[string]any) string {
	encoded, err := json.Marshal(schema)
	if err != nil {
		encoded = []byte("{}")
	}
	return "Respond only with a single JSON object conforming to this JSON Schema, with no surrounding prose or code fences:\n" + string(encoded)
}
