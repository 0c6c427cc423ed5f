package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/maestro/pkg/models"
)

// GoogleModel adapts the Gemini API to the ChatModel contract. Gemini does
// not assign tool call ids, so the adapter mints them and recovers the tool
// name from the id when converting results back.
type GoogleModel struct {
	client      *genai.Client
	model       string
	temperature *float64
	maxTokens   int
	tools       []ToolSpec
	schema      map[string]any
	maxRetries  int
	retryDelay  time.Duration
}

// NewGoogleModel creates an adapter from config.
func NewGoogleModel(cfg ModelConfig) (*GoogleModel, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleModel{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  defaultMaxRetries,
		retryDelay:  defaultRetryDelay,
	}, nil
}

func (m *GoogleModel) Name() string { return "google" }

func (m *GoogleModel) BindTools(tools []ToolSpec) ChatModel {
	clone := *m
	clone.tools = append([]ToolSpec{}, tools...)
	return &clone
}

// WithStructuredOutput returns a copy that uses Gemini's native JSON
// response mode with the schema attached.
func (m *GoogleModel) WithStructuredOutput(schema map[string]any) (ChatModel, error) {
	if schema == nil {
		return nil, fmt.Errorf("google: structured output requires a schema")
	}
	clone := *m
	clone.schema = schema
	return &clone, nil
}

func (m *GoogleModel) Invoke(ctx context.Context, messages []models.Message) (*Response, error) {
	return collect(ctx, m, messages)
}

func (m *GoogleModel) Stream(ctx context.Context, messages []models.Message) (<-chan Delta, error) {
	system, rest := splitSystem(messages)
	contents, err := m.convertMessages(rest)
	if err != nil {
		return nil, err
	}
	config := m.buildConfig(system)

	deltas := make(chan Delta)
	go func() {
		defer close(deltas)

		var lastErr error
		for attempt := 0; attempt < m.maxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					deltas <- Delta{Err: ctx.Err()}
					return
				case <-time.After(m.retryDelay * time.Duration(math.Pow(2, float64(attempt-1)))):
				}
			}

			streamIter := m.client.Models.GenerateContentStream(ctx, m.model, contents, config)
			emitted, err := m.processStream(ctx, streamIter, deltas)
			if err == nil {
				return
			}
			lastErr = err
			// Once output has been emitted the turn cannot be restarted.
			if emitted || !isRetryable(err) {
				break
			}
		}

		if ctx.Err() != nil {
			deltas <- Delta{Err: ctx.Err()}
			return
		}
		deltas <- Delta{Err: wrapTransport("google", m.model, lastErr)}
	}()

	return deltas, nil
}

// processStream drains one Gemini stream. It reports whether any delta was
// emitted so the caller knows if a retry is still safe.
func (m *GoogleModel) processStream(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], deltas chan<- Delta) (bool, error) {
	emitted := false
	var usage *models.Usage

	for resp, err := range streamIter {
		select {
		case <-ctx.Done():
			return emitted, ctx.Err()
		default:
		}
		if err != nil {
			return emitted, err
		}
		if resp == nil {
			continue
		}

		if resp.UsageMetadata != nil {
			usage = &models.Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
			}
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					deltas <- Delta{Content: part.Text}
					emitted = true
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					deltas <- Delta{ToolCalls: []models.ToolCall{{
						ID:    mintToolCallID(part.FunctionCall.Name),
						Name:  part.FunctionCall.Name,
						Input: argsJSON,
					}}}
					emitted = true
				}
			}
		}
	}

	if usage != nil {
		deltas <- Delta{Usage: usage}
	}
	return emitted, nil
}

func (m *GoogleModel) buildConfig(system string) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if m.temperature != nil {
		temp := float32(*m.temperature)
		config.Temperature = &temp
	}
	if m.maxTokens > 0 {
		maxTokens := min(m.maxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(m.tools) > 0 {
		config.Tools = convertGoogleTools(m.tools)
	}
	if m.schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = toGeminiSchema(m.schema)
	}
	return config
}

func (m *GoogleModel) convertMessages(messages []models.Message) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range messages {
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAI {
			content.Role = genai.RoleModel
		}

		if len(msg.Parts) > 0 {
			for _, part := range msg.Parts {
				switch part.Type {
				case models.PartText:
					content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
				case models.PartImage:
					// Gemini wants raw bytes, not the base64 text.
					data, err := base64.StdEncoding.DecodeString(part.ImageBase64)
					if err != nil {
						return nil, fmt.Errorf("decode image part: %w", err)
					}
					content.Parts = append(content.Parts, &genai.Part{
						InlineData: &genai.Blob{
							MIMEType: part.MediaType,
							Data:     data,
						},
					})
				}
			}
		} else if msg.Content != "" && msg.Role != models.RoleTool {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}

		if msg.Role == models.RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Text()), &response); err != nil {
				response = map[string]any{"result": msg.Text()}
			}
			name := msg.Name
			if name == "" {
				name = toolNameFromID(msg.ToolCallID, messages)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: name, Response: response},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

func convertGoogleTools(tools []ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a JSON Schema map to Gemini's Schema type.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

// mintToolCallID fabricates a call id; Gemini does not supply one.
func mintToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// toolNameFromID recovers the tool name for a result by scanning prior tool
// calls, falling back to the "call_<name>_<nanos>" id format.
func toolNameFromID(toolCallID string, messages []models.Message) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	parts := strings.Split(toolCallID, "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
