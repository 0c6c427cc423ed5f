package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// SaveMemoryName is the auto-injected long-term memory tool.
const SaveMemoryName = "save_memory"

// MemorySaver is the long-term memory collaborator of the save_memory
// built-in.
type MemorySaver interface {
	Save(agentName, content string, maxLines int) error
}

type saveMemoryArgs struct {
	Content string `json:"content" jsonschema:"description=The complete new memory content. This REPLACES everything previously saved."`
}

// NewSaveMemoryTool builds the save_memory built-in for one agent.
func NewSaveMemoryTool(saver MemorySaver, agentName string, maxLines int) Tool {
	return &Func{
		ToolName: SaveMemoryName,
		ToolDescription: fmt.Sprintf(
			"Persist long-term memory across conversations. Saving REPLACES the entire memory blob, so include everything worth keeping. At most %d lines are retained.",
			maxLines),
		ToolSchema: reflectSchema(&saveMemoryArgs{}),
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			var parsed saveMemoryArgs
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if err := saver.Save(agentName, parsed.Content, maxLines); err != nil {
				return "", err
			}
			return "Memory saved.", nil
		},
	}
}

// MessageSender posts a message to an integration surface (chat channel or
// mailbox thread).
type MessageSender interface {
	Send(ctx context.Context, text string) error
}

type sendMessageArgs struct {
	Message string `json:"message" jsonschema:"description=The message text to post."`
}

// NewIntegrationSendTool builds the auto-injected send tool for one
// integration connector. The tool name carries the integration kind, e.g.
// send_chat_message.
func NewIntegrationSendTool(kind string, sender MessageSender) Tool {
	return &Func{
		ToolName:        fmt.Sprintf("send_%s_message", kind),
		ToolDescription: fmt.Sprintf("Post a message to the connected %s integration outside the normal reply flow.", kind),
		ToolSchema:      reflectSchema(&sendMessageArgs{}),
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			var parsed sendMessageArgs
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if strings.TrimSpace(parsed.Message) == "" {
				return "", fmt.Errorf("message must not be empty")
			}
			if err := sender.Send(ctx, parsed.Message); err != nil {
				return "", err
			}
			return "Message sent.", nil
		},
	}
}

type knowledgeSearchArgs struct {
	Query string `json:"query" jsonschema:"description=The search query."`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results,default=5"`
}

// NewKnowledgeSearchTool builds a search tool over one knowledge store.
func NewKnowledgeSearchTool(searcher KnowledgeSearcher, store string) Tool {
	return &Func{
		ToolName:        fmt.Sprintf("search_%s", store),
		ToolDescription: fmt.Sprintf("Search the %q knowledge store and return the most relevant passages.", store),
		ToolSchema:      reflectSchema(&knowledgeSearchArgs{}),
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			var parsed knowledgeSearchArgs
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if parsed.Limit <= 0 {
				parsed.Limit = 5
			}
			results, err := searcher.Search(ctx, store, parsed.Query, parsed.Limit)
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "No results found.", nil
			}
			return strings.Join(results, "\n\n---\n\n"), nil
		},
	}
}

// reflectSchema derives a plain JSON Schema object from an args struct.
func reflectSchema(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return data
}
