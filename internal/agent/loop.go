package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/maestro/internal/llm"
	"github.com/haasonsaas/maestro/internal/tools"
	"github.com/haasonsaas/maestro/pkg/models"
)

// DefaultMaxIterations bounds the model/tool alternation of one invocation.
const DefaultMaxIterations = 200

// Loop is the bounded controller that alternates model calls and tool
// executions until the model stops requesting tools. Tools dispatch
// strictly sequentially in model-returned order; cancellation is checked
// at every suspension point.
type Loop struct {
	model         llm.ChatModel
	tools         map[string]tools.Tool
	maxIterations int
	logger        *slog.Logger

	// onTool observes every dispatch outcome, used for metrics.
	onTool func(tool, status string)
}

// NewLoop creates a loop over a model and a resolved tool set.
func NewLoop(model llm.ChatModel, toolSet []tools.Tool, maxIterations int, logger *slog.Logger) *Loop {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]tools.Tool, len(toolSet))
	for _, t := range toolSet {
		byName[t.Name()] = t
	}
	return &Loop{
		model:         model,
		tools:         byName,
		maxIterations: maxIterations,
		logger:        logger.With("component", "loop"),
	}
}

// Run drives the loop to completion and returns the full message chain:
// the prepended system message, the inputs, and every ai and tool message
// appended along the way. When the iteration cap is exceeded the chain is
// returned as accumulated, without a final ai message.
func (l *Loop) Run(ctx context.Context, systemPrompt string, input []models.Message) ([]models.Message, *models.Usage, error) {
	messages := make([]models.Message, 0, len(input)+1)
	if systemPrompt != "" {
		messages = append(messages, models.SystemMessage(systemPrompt))
	}
	messages = append(messages, input...)

	usage := &models.Usage{}

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return messages, usage, err
		}

		resp, err := l.model.Invoke(ctx, messages)
		if err != nil {
			return messages, usage, err
		}
		usage.Add(resp.Usage)

		messages = append(messages, models.AIMessage(resp.Content, resp.ToolCalls...))
		if len(resp.ToolCalls) == 0 {
			return messages, usage, nil
		}

		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return messages, usage, err
			}
			output, err := l.dispatch(ctx, call)
			if err != nil {
				// UserInterrupt passes through; the caller owns the
				// in-flight state.
				return messages, usage, err
			}
			messages = append(messages, models.ToolMessage(output, call.ID, call.Name))
		}
	}

	l.logger.Warn("iteration cap exceeded", "max_iterations", l.maxIterations)
	return messages, usage, nil
}

// RunStream drives the loop while emitting events. The channel closes when
// the loop finishes; an event with Err set is terminal.
func (l *Loop) RunStream(ctx context.Context, systemPrompt string, input []models.Message) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)

		messages := make([]models.Message, 0, len(input)+1)
		if systemPrompt != "" {
			messages = append(messages, models.SystemMessage(systemPrompt))
		}
		messages = append(messages, input...)

		for iteration := 0; iteration < l.maxIterations; iteration++ {
			if err := ctx.Err(); err != nil {
				events <- Event{Err: err}
				return
			}

			resp, err := l.streamTurn(ctx, messages, events)
			if err != nil {
				events <- Event{Err: err}
				return
			}

			events <- Event{
				Kind:        EventModelEnd,
				FullContent: resp.Content,
				ToolCalls:   resp.ToolCalls,
				Usage:       resp.Usage,
			}

			messages = append(messages, models.AIMessage(resp.Content, resp.ToolCalls...))
			if len(resp.ToolCalls) == 0 {
				return
			}

			for _, call := range resp.ToolCalls {
				if err := ctx.Err(); err != nil {
					events <- Event{Err: err}
					return
				}
				runID := uuid.NewString()
				events <- Event{Kind: EventToolStart, RunID: runID, Name: call.Name, Input: call.Input}

				output, err := l.dispatch(ctx, call)
				if err != nil {
					events <- Event{Err: err}
					return
				}
				events <- Event{Kind: EventToolEnd, RunID: runID, Name: call.Name, Output: output}
				messages = append(messages, models.ToolMessage(output, call.ID, call.Name))
			}
		}

		l.logger.Warn("iteration cap exceeded", "max_iterations", l.maxIterations)
	}()
	return events
}

// streamTurn drives one model turn, forwarding chunks as events and
// folding the deltas into a complete response.
func (l *Loop) streamTurn(ctx context.Context, messages []models.Message, events chan<- Event) (*llm.Response, error) {
	deltas, err := l.model.Stream(ctx, messages)
	if err != nil {
		return nil, err
	}

	resp := &llm.Response{}
	var content strings.Builder
	for delta := range deltas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if delta.Err != nil {
			return nil, delta.Err
		}
		if delta.Content != "" || delta.Reasoning != "" {
			events <- Event{Kind: EventModelChunk, Content: delta.Content, Reasoning: delta.Reasoning}
		}
		content.WriteString(delta.Content)
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
	return resp, nil
}

// OnToolExecution registers a dispatch observer. Must be called before
// Run or RunStream.
func (l *Loop) OnToolExecution(fn func(tool, status string)) { l.onTool = fn }

func (l *Loop) observeTool(tool, status string) {
	if l.onTool != nil {
		l.onTool(tool, status)
	}
}

// dispatch runs one tool call. Missing tools and tool failures are
// recoverable: they synthesize an output the model sees as context. Only
// cancellation and user interrupts surface as errors.
func (l *Loop) dispatch(ctx context.Context, call models.ToolCall) (string, error) {
	tool, ok := l.tools[call.Name]
	if !ok {
		l.logger.Debug("tool not found", "tool", call.Name)
		l.observeTool(call.Name, "not_found")
		return fmt.Sprintf("Tool %q not found", call.Name), nil
	}

	output, err := tool.Invoke(ctx, call.Input)
	if err != nil {
		if IsUserInterrupt(err) || IsCancellation(err) {
			return "", err
		}
		l.logger.Debug("tool failed", "tool", call.Name, "error", err)
		l.observeTool(call.Name, "error")
		return fmt.Sprintf("Error: %s", err.Error()), nil
	}
	l.observeTool(call.Name, "success")
	return output, nil
}
