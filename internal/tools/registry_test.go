package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func echoTool() Tool {
	return &Func{
		ToolName:        "echo",
		ToolDescription: "echoes text",
		ToolSchema:      json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			var parsed struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", err
			}
			return parsed.Text, nil
		},
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(echoTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(echoTool()); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestResolveDeduplicatesFirstWins(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(echoTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	resolved, err := reg.Resolve(context.Background(), []Ref{
		{Name: "echo", Source: SourceBuiltin},
		{Name: "echo", Source: SourceBuiltin},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) != 1 {
		t.Errorf("resolved %d tools, want 1", len(resolved))
	}
}

func TestResolveUnknownToolFails(t *testing.T) {
	reg := NewRegistry(nil)
	if _, err := reg.Resolve(context.Background(), []Ref{{Name: "ghost"}}); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

type fakeSearcher struct {
	results []string
}

func (f *fakeSearcher) Search(ctx context.Context, store, query string, limit int) ([]string, error) {
	return f.results, nil
}

func TestResolveKnowledgeSource(t *testing.T) {
	reg := NewRegistry(nil)
	reg.SetKnowledgeSearcher(&fakeSearcher{results: []string{"passage one", "passage two"}})

	resolved, err := reg.Resolve(context.Background(), []Ref{
		{Name: "docs", Source: SourceKnowledge, Config: map[string]any{"store": "docs"}},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) != 1 || resolved[0].Name() != "search_docs" {
		t.Fatalf("resolved = %v", resolved)
	}

	out, err := resolved[0].Invoke(context.Background(), json.RawMessage(`{"query":"anything"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(out, "passage one") || !strings.Contains(out, "passage two") {
		t.Errorf("output = %q", out)
	}
}

func TestResolveKnowledgeWithoutSearcherFails(t *testing.T) {
	reg := NewRegistry(nil)
	if _, err := reg.Resolve(context.Background(), []Ref{{Name: "docs", Source: SourceKnowledge}}); err == nil {
		t.Fatal("expected error without knowledge store")
	}
}

func TestSchemaValidationRejectsBadArgs(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Register(echoTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	resolved, err := reg.Resolve(context.Background(), []Ref{{
		Name:   "echo",
		Source: SourceBuiltin,
		Config: map[string]any{
			"schema": map[string]any{
				"type":       "object",
				"required":   []any{"text"},
				"properties": map[string]any{"text": map[string]any{"type": "string"}},
			},
		},
	}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	tool := resolved[0]
	if _, err := tool.Invoke(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected validation error for missing required field")
	}
	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"text":"ok"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "ok" {
		t.Errorf("output = %q", out)
	}
}
