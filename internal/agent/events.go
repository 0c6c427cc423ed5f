package agent

import (
	"encoding/json"

	"github.com/haasonsaas/maestro/pkg/models"
)

// EventKind tags a tool-loop streaming event.
type EventKind string

const (
	// EventModelChunk carries a non-empty model delta.
	EventModelChunk EventKind = "model_chunk"

	// EventModelEnd closes one model turn with its accumulated response.
	EventModelEnd EventKind = "model_end"

	// EventToolStart fires immediately before a tool invocation.
	EventToolStart EventKind = "tool_start"

	// EventToolEnd fires after the invocation returns, including
	// synthesized not-found and error outputs.
	EventToolEnd EventKind = "tool_end"
)

// Event is one step of a streamed tool loop. RunID pairs each tool_end
// with its tool_start.
type Event struct {
	Kind EventKind

	// model_chunk
	Content   string
	Reasoning string

	// model_end
	FullContent string
	ToolCalls   []models.ToolCall
	Usage       *models.Usage

	// tool_start / tool_end
	RunID  string
	Name   string
	Input  json.RawMessage
	Output string

	// Err terminates the stream: cancellation, transport failure, or a
	// user interrupt. No further events follow.
	Err error
}

// FrameKind tags an executor streaming frame.
type FrameKind string

const (
	FrameContent   FrameKind = "content"
	FrameThinking  FrameKind = "thinking"
	FrameToolStart FrameKind = "tool_start"
	FrameToolEnd   FrameKind = "tool_end"
	FrameUsage     FrameKind = "usage"
	FrameResult    FrameKind = "result"
	FrameError     FrameKind = "error"
)

// Frame is the envelope streamed to executor consumers. Type-specific
// fields follow the kind; consumers must tolerate late arrival of the
// final usage, result, and error frames.
type Frame struct {
	Type FrameKind `json:"type"`

	Content string `json:"content,omitempty"`

	RunID string          `json:"run_id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	Output string         `json:"output,omitempty"`

	Usage *models.Usage `json:"usage,omitempty"`

	// Result carries the structured output object.
	Result any `json:"result,omitempty"`

	Error string `json:"error,omitempty"`
}
