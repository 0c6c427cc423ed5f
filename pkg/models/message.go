package models

import "encoding/json"

// Role indicates the message author type.
type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleTool   Role = "tool"
)

// PartType tags a content part variant.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one element of a multipart message body. Exactly one
// variant is populated, selected by Type.
type ContentPart struct {
	Type PartType `json:"type"`

	// Text is set when Type is PartText.
	Text string `json:"text,omitempty"`

	// ImageBase64 and MediaType are set when Type is PartImage.
	ImageBase64 string `json:"image_base64,omitempty"`
	MediaType   string `json:"media_type,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart builds a base64 image content part.
func ImagePart(data, mediaType string) ContentPart {
	return ContentPart{Type: PartImage, ImageBase64: data, MediaType: mediaType}
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Usage carries token accounting reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// Message is the unified message format across providers and sessions.
// Content holds the plain-text body; Parts, when non-empty, replaces
// Content with a multipart body (text and image parts).
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// SystemMessage builds a system message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// HumanMessage builds a plain-text human message.
func HumanMessage(text string) Message {
	return Message{Role: RoleHuman, Content: text}
}

// HumanMessageParts builds a multipart human message.
func HumanMessageParts(parts []ContentPart) Message {
	return Message{Role: RoleHuman, Parts: parts}
}

// AIMessage builds an assistant message.
func AIMessage(text string, toolCalls ...ToolCall) Message {
	return Message{Role: RoleAI, Content: text, ToolCalls: toolCalls}
}

// ToolMessage builds a tool-result message correlated to a prior tool call.
func ToolMessage(content, toolCallID, name string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID, Name: name}
}

// Text returns the text projection of the message body: Content when the
// message is plain, otherwise the concatenation of its text parts. Image
// parts contribute nothing.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, part := range m.Parts {
		if part.Type == PartText {
			out += part.Text
		}
	}
	return out
}

// ContentToText extracts the text projection of an arbitrary content value:
// a string, a []ContentPart, or a Message.
func ContentToText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []ContentPart:
		return Message{Parts: v}.Text()
	case Message:
		return v.Text()
	case *Message:
		if v == nil {
			return ""
		}
		return v.Text()
	default:
		return ""
	}
}

// CloneMessages returns a shallow copy of a message slice. Tool call and
// part slices are copied so callers cannot mutate stored state.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, msg := range messages {
		out[i] = msg
		if len(msg.ToolCalls) > 0 {
			out[i].ToolCalls = append([]ToolCall{}, msg.ToolCalls...)
		}
		if len(msg.Parts) > 0 {
			out[i].Parts = append([]ContentPart{}, msg.Parts...)
		}
	}
	return out
}
