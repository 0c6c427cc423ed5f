package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/maestro/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive events that produce no output
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicModel adapts the Anthropic Messages API to the ChatModel
// contract. Thinking deltas surface as Reasoning; tool input JSON is
// accumulated across deltas and parsed when the content block closes.
type AnthropicModel struct {
	client      anthropic.Client
	model       string
	temperature *float64
	maxTokens   int
	tools       []ToolSpec
	schema      map[string]any
	maxRetries  int
	retryDelay  time.Duration
}

// NewAnthropicModel creates an adapter from config.
func NewAnthropicModel(cfg ModelConfig) *AnthropicModel {
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicModel{
		client:      anthropic.NewClient(options...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  defaultMaxRetries,
		retryDelay:  defaultRetryDelay,
	}
}

func (m *AnthropicModel) Name() string { return "anthropic" }

func (m *AnthropicModel) BindTools(tools []ToolSpec) ChatModel {
	clone := *m
	clone.tools = append([]ToolSpec{}, tools...)
	return &clone
}

// WithStructuredOutput returns a copy that carries the schema as a system
// instruction. The Messages API has no native JSON-schema response mode.
func (m *AnthropicModel) WithStructuredOutput(schema map[string]any) (ChatModel, error) {
	if schema == nil {
		return nil, fmt.Errorf("anthropic: structured output requires a schema")
	}
	clone := *m
	clone.schema = schema
	return &clone, nil
}

func (m *AnthropicModel) Invoke(ctx context.Context, messages []models.Message) (*Response, error) {
	return collect(ctx, m, messages)
}

func (m *AnthropicModel) Stream(ctx context.Context, messages []models.Message) (<-chan Delta, error) {
	system, rest := splitSystem(messages)
	if m.schema != nil {
		if system != "" {
			system += "\n\n"
		}
		system += structuredOutputInstruction(m.schema)
	}

	converted, err := m.convertMessages(rest)
	if err != nil {
		return nil, err
	}

	maxTokens := m.maxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if m.temperature != nil {
		params.Temperature = anthropic.Float(*m.temperature)
	}
	if len(m.tools) > 0 {
		tools, err := convertAnthropicTools(m.tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	stream := m.client.Messages.NewStreaming(ctx, params)

	deltas := make(chan Delta)
	go m.processStream(ctx, stream, deltas)
	return deltas, nil
}

func (m *AnthropicModel) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], deltas chan<- Delta) {
	defer close(deltas)
	defer stream.Close()

	var currentCall *models.ToolCall
	var currentInput strings.Builder
	emptyEvents := 0
	usage := &models.Usage{}

	for stream.Next() {
		select {
		case <-ctx.Done():
			deltas <- Delta{Err: ctx.Err()}
			return
		default:
		}

		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					deltas <- Delta{Content: delta.Text}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					deltas <- Delta{Reasoning: delta.Thinking}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentCall != nil {
				input := currentInput.String()
				if input == "" {
					input = "{}"
				}
				if !json.Valid([]byte(input)) {
					deltas <- Delta{Err: fmt.Errorf("anthropic: tool call %s: malformed arguments", currentCall.Name)}
					currentCall = nil
					processed = true
					break
				}
				currentCall.Input = json.RawMessage(input)
				deltas <- Delta{ToolCalls: []models.ToolCall{*currentCall}}
				currentCall = nil
				processed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(messageDelta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			deltas <- Delta{Usage: usage}
			return

		case "error":
			deltas <- Delta{Err: wrapTransport("anthropic", m.model, errors.New("stream error event"))}
			return
		}

		if processed {
			emptyEvents = 0
			continue
		}
		emptyEvents++
		if emptyEvents >= maxEmptyStreamEvents {
			deltas <- Delta{Err: wrapTransport("anthropic", m.model,
				fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEvents))}
			return
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			deltas <- Delta{Err: ctx.Err()}
			return
		}
		deltas <- Delta{Err: wrapTransport("anthropic", m.model, err)}
	}
}

func (m *AnthropicModel) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		switch msg.Role {
		case models.RoleTool:
			// Tool results pair with their call via the tool_use id and
			// travel on the user side of the conversation.
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Text(), false))

		default:
			if len(msg.Parts) > 0 {
				for _, part := range msg.Parts {
					switch part.Type {
					case models.PartText:
						content = append(content, anthropic.NewTextBlock(part.Text))
					case models.PartImage:
						content = append(content, anthropic.NewImageBlockBase64(part.MediaType, part.ImageBase64))
					}
				}
			} else if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("anthropic: invalid tool call input for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAI {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertAnthropicTools(tools []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for tool %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid schema for tool %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}
