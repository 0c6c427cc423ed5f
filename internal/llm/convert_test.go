package llm

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/maestro/pkg/models"
)

func TestOpenAIConvertMessagesRoundTrip(t *testing.T) {
	m := NewOpenAIModel(ModelConfig{Model: "gpt-4o", APIKey: "test"})

	msgs := m.convertMessages("be helpful", []models.Message{
		models.HumanMessage("hi"),
		models.AIMessage("", models.ToolCall{ID: "1", Name: "echo", Input: []byte(`{"text":"x"}`)}),
		models.ToolMessage("x", "1", "echo"),
		models.AIMessage("done"),
	})

	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "be helpful" {
		t.Errorf("system message = %+v", msgs[0])
	}
	if msgs[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("assistant message role = %s", msgs[2].Role)
	}
	if len(msgs[2].ToolCalls) != 1 || msgs[2].ToolCalls[0].Function.Arguments != `{"text":"x"}` {
		t.Errorf("tool calls = %+v", msgs[2].ToolCalls)
	}
	if msgs[3].Role != openai.ChatMessageRoleTool || msgs[3].ToolCallID != "1" {
		t.Errorf("tool message = %+v", msgs[3])
	}
}

func TestOpenAIConvertMultipartHuman(t *testing.T) {
	m := NewOpenAIModel(ModelConfig{Model: "gpt-4o", APIKey: "test"})

	msgs := m.convertMessages("", []models.Message{
		models.HumanMessageParts([]models.ContentPart{
			models.TextPart("what is this"),
			models.ImagePart("aGVsbG8=", "image/png"),
		}),
	})

	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	parts := msgs[0].MultiContent
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if parts[0].Type != openai.ChatMessagePartTypeText || parts[0].Text != "what is this" {
		t.Errorf("text part = %+v", parts[0])
	}
	if parts[1].Type != openai.ChatMessagePartTypeImageURL {
		t.Errorf("image part = %+v", parts[1])
	}
	if want := "data:image/png;base64,aGVsbG8="; parts[1].ImageURL.URL != want {
		t.Errorf("image url = %q, want %q", parts[1].ImageURL.URL, want)
	}
}

func TestConvertOpenAIToolsBadSchemaDegrades(t *testing.T) {
	tools := convertOpenAITools([]ToolSpec{
		{Name: "good", Schema: []byte(`{"type":"object","properties":{}}`)},
		{Name: "bad", Schema: []byte(`{not json`)},
	})
	if len(tools) != 2 {
		t.Fatalf("got %d tools", len(tools))
	}
	params, ok := tools[1].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("bad schema should degrade to empty object schema, got %+v", tools[1].Function.Parameters)
	}
}

func TestGoogleSchemaConversion(t *testing.T) {
	var schemaMap map[string]any
	schemaJSON := `{
		"type": "object",
		"description": "person record",
		"properties": {
			"name": {"type": "string"},
			"tags": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["name"]
	}`
	if err := json.Unmarshal([]byte(schemaJSON), &schemaMap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	schema := toGeminiSchema(schemaMap)
	if schema.Type != "OBJECT" {
		t.Errorf("type = %q", schema.Type)
	}
	if schema.Description != "person record" {
		t.Errorf("description = %q", schema.Description)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "name" {
		t.Errorf("required = %v", schema.Required)
	}
	tags := schema.Properties["tags"]
	if tags == nil || tags.Items == nil || tags.Items.Type != "STRING" {
		t.Errorf("nested array schema = %+v", tags)
	}
}

func TestToolNameFromID(t *testing.T) {
	messages := []models.Message{
		models.AIMessage("", models.ToolCall{ID: "call_search_123", Name: "search", Input: []byte(`{}`)}),
	}
	if got := toolNameFromID("call_search_123", messages); got != "search" {
		t.Errorf("toolNameFromID = %q", got)
	}
	// Unknown id falls back to parsing the minted format.
	if got := toolNameFromID("call_lookup_456", nil); got != "lookup" {
		t.Errorf("fallback toolNameFromID = %q", got)
	}
}

func TestGoogleConvertImageDecodesBase64(t *testing.T) {
	m := &GoogleModel{model: "gemini-2.0-flash"}

	encoded := base64.StdEncoding.EncodeToString([]byte("\x89PNG"))
	contents, err := m.convertMessages([]models.Message{
		models.HumanMessageParts([]models.ContentPart{
			models.TextPart("what is this"),
			models.ImagePart(encoded, "image/png"),
		}),
	})
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(contents) != 1 || len(contents[0].Parts) != 2 {
		t.Fatalf("contents = %+v", contents)
	}

	blob := contents[0].Parts[1].InlineData
	if blob == nil {
		t.Fatal("image part missing InlineData")
	}
	if blob.MIMEType != "image/png" {
		t.Errorf("mime type = %q", blob.MIMEType)
	}
	if !bytes.Equal(blob.Data, []byte{0x89, 'P', 'N', 'G'}) {
		t.Errorf("blob data = %v, want raw decoded bytes", blob.Data)
	}
}

func TestGoogleConvertImageRejectsBadBase64(t *testing.T) {
	m := &GoogleModel{model: "gemini-2.0-flash"}

	_, err := m.convertMessages([]models.Message{
		models.HumanMessageParts([]models.ContentPart{
			models.ImagePart("not base64!!", "image/png"),
		}),
	})
	if err == nil {
		t.Fatal("expected decode error")
	}
}
