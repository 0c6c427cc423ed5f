package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/maestro/pkg/models"
)

// OpenAIModel adapts any OpenAI-compatible chat completion endpoint to the
// ChatModel contract. Tool calls stream incrementally and are accumulated
// per call index, then parsed exactly once at stream end.
type OpenAIModel struct {
	client      *openai.Client
	model       string
	temperature *float64
	maxTokens   int
	tools       []ToolSpec
	schema      map[string]any
	maxRetries  int
	retryDelay  time.Duration
}

// NewOpenAIModel creates an adapter from config. A custom BaseURL points it
// at any OpenAI-compatible server.
func NewOpenAIModel(cfg ModelConfig) *OpenAIModel {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIModel{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  defaultMaxRetries,
		retryDelay:  defaultRetryDelay,
	}
}

func (m *OpenAIModel) Name() string { return "openai" }

// BindTools returns a copy of the model that advertises the given tools.
func (m *OpenAIModel) BindTools(tools []ToolSpec) ChatModel {
	clone := *m
	clone.tools = append([]ToolSpec{}, tools...)
	return &clone
}

// WithStructuredOutput returns a copy that requests JSON object output and
// carries the schema as a system instruction.
func (m *OpenAIModel) WithStructuredOutput(schema map[string]any) (ChatModel, error) {
	if schema == nil {
		return nil, fmt.Errorf("openai: structured output requires a schema")
	}
	clone := *m
	clone.schema = schema
	return &clone, nil
}

func (m *OpenAIModel) Invoke(ctx context.Context, messages []models.Message) (*Response, error) {
	return collect(ctx, m, messages)
}

func (m *OpenAIModel) Stream(ctx context.Context, messages []models.Message) (<-chan Delta, error) {
	req := openai.ChatCompletionRequest{
		Model:  m.model,
		Stream: true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if m.temperature != nil {
		req.Temperature = float32(*m.temperature)
	}
	if m.maxTokens > 0 {
		req.MaxTokens = m.maxTokens
	}

	system, rest := splitSystem(messages)
	if m.schema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
		if system != "" {
			system += "\n\n"
		}
		system += structuredOutputInstruction(m.schema)
	}
	req.Messages = m.convertMessages(system, rest)

	if len(m.tools) > 0 {
		req.Tools = convertOpenAITools(m.tools)
	}

	// Linear backoff on stream creation; streaming errors are not retried.
	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = m.client.CreateChatCompletionStream(ctx, req)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, wrapTransport("openai", m.model, lastErr)
		}
	}
	if lastErr != nil {
		return nil, wrapTransport("openai", m.model, fmt.Errorf("max retries exceeded: %w", lastErr))
	}

	deltas := make(chan Delta)
	go m.processStream(ctx, stream, deltas)
	return deltas, nil
}

func (m *OpenAIModel) processStream(ctx context.Context, stream *openai.ChatCompletionStream, deltas chan<- Delta) {
	defer close(deltas)
	defer stream.Close()

	// Tool calls arrive fragmented; key by the provider call index.
	pending := make(map[int]*models.ToolCall)
	var usage *models.Usage

	flush := func() {
		indexes := make([]int, 0, len(pending))
		for idx := range pending {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			call := pending[idx]
			if call.ID == "" || call.Name == "" {
				continue
			}
			if len(call.Input) == 0 {
				call.Input = json.RawMessage("{}")
			}
			if !json.Valid(call.Input) {
				deltas <- Delta{Err: fmt.Errorf("openai: tool call %s: malformed arguments", call.Name)}
				continue
			}
			deltas <- Delta{ToolCalls: []models.ToolCall{*call}}
		}
		pending = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			deltas <- Delta{Err: ctx.Err()}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flush()
				if usage != nil {
					deltas <- Delta{Usage: usage}
				}
				return
			}
			if ctx.Err() != nil {
				deltas <- Delta{Err: ctx.Err()}
				return
			}
			deltas <- Delta{Err: wrapTransport("openai", m.model, err)}
			return
		}

		if response.Usage != nil {
			usage = &models.Usage{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
				TotalTokens:  response.Usage.TotalTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			deltas <- Delta{Content: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				pending[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pending[index].Input = append(pending[index].Input, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

func (m *OpenAIModel) convertMessages(system string, messages []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleHuman:
			if len(msg.Parts) > 0 {
				result = append(result, openai.ChatCompletionMessage{
					Role:         openai.ChatMessageRoleUser,
					MultiContent: convertOpenAIParts(msg.Parts),
				})
				continue
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})

		case models.RoleAI:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)

		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Text(),
				ToolCallID: msg.ToolCallID,
			})
		}
	}

	return result
}

func convertOpenAIParts(parts []models.ContentPart) []openai.ChatMessagePart {
	out := make([]openai.ChatMessagePart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case models.PartText:
			out = append(out, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case models.PartImage:
			out = append(out, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", part.MediaType, part.ImageBase64),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return out
}

func convertOpenAITools(tools []ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil {
			// One bad schema must not break function calling for the rest.
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
