package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Source identifies where a declared tool comes from.
type Source string

const (
	SourceBuiltin   Source = "builtin"
	SourceCustom    Source = "custom"
	SourceProject   Source = "project"
	SourceMCP       Source = "mcp"
	SourceKnowledge Source = "knowledge"
	SourceSandbox   Source = "sandbox"
)

// Ref is one entry of an agent's declared tool list.
type Ref struct {
	Name   string
	Source Source
	Config map[string]any
}

// KnowledgeSearcher is the external knowledge-store collaborator consumed
// by the knowledge search built-in.
type KnowledgeSearcher interface {
	Search(ctx context.Context, store, query string, limit int) ([]string, error)
}

// SandboxToolProvider is the external sandbox container manager. It hands
// out executor tools on demand.
type SandboxToolProvider interface {
	SandboxTools(ctx context.Context) ([]Tool, error)
}

// Provider supplies tools for a non-builtin source (project code, MCP
// peers). Providers are consulted at resolve time.
type Provider interface {
	Tool(ctx context.Context, ref Ref) (Tool, error)
}

// Registry resolves declarative tool lists to concrete callable tools.
// Registration happens during initialization; afterwards the registry is
// effectively read-only.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	providers map[Source]Provider
	searcher  KnowledgeSearcher
	sandbox   SandboxToolProvider
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:     make(map[string]Tool),
		providers: make(map[Source]Provider),
		logger:    logger.With("component", "tools"),
	}
}

// Register adds a named tool. Registering the same name twice is an error.
func (r *Registry) Register(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return fmt.Errorf("tools: tool must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tools: %q already registered", tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// RegisterProvider attaches a provider for a source.
func (r *Registry) RegisterProvider(source Source, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[source] = provider
}

// SetKnowledgeSearcher attaches the external knowledge store.
func (r *Registry) SetKnowledgeSearcher(searcher KnowledgeSearcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searcher = searcher
}

// SetSandboxProvider attaches the external sandbox manager.
func (r *Registry) SetSandboxProvider(provider SandboxToolProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sandbox = provider
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Resolve maps an agent's declared tool list to concrete tools. Duplicate
// names are dropped, first-wins. Unresolvable refs fail the whole resolve;
// a misdeclared agent should not start.
func (r *Registry) Resolve(ctx context.Context, refs []Ref) ([]Tool, error) {
	resolved := make([]Tool, 0, len(refs))
	seen := make(map[string]bool)

	for _, ref := range refs {
		tool, err := r.resolveOne(ctx, ref)
		if err != nil {
			return nil, err
		}
		if seen[tool.Name()] {
			continue
		}
		seen[tool.Name()] = true

		// Declared schemas gate model-supplied arguments before invoke.
		if raw, ok := ref.Config["schema"].(map[string]any); ok {
			validated, err := WithSchemaValidation(tool, raw)
			if err != nil {
				return nil, fmt.Errorf("tools: %s: %w", ref.Name, err)
			}
			tool = validated
		}
		resolved = append(resolved, tool)
	}
	return resolved, nil
}

// SandboxTools returns the sandbox executors from the external provider,
// or nil when no provider is attached.
func (r *Registry) SandboxTools(ctx context.Context) ([]Tool, error) {
	r.mu.RLock()
	sandbox := r.sandbox
	r.mu.RUnlock()
	if sandbox == nil {
		return nil, nil
	}
	return sandbox.SandboxTools(ctx)
}

func (r *Registry) resolveOne(ctx context.Context, ref Ref) (Tool, error) {
	r.mu.RLock()
	tool, direct := r.tools[ref.Name]
	provider := r.providers[ref.Source]
	searcher := r.searcher
	r.mu.RUnlock()

	switch ref.Source {
	case SourceKnowledge:
		if searcher == nil {
			return nil, fmt.Errorf("tools: %s: no knowledge store attached", ref.Name)
		}
		store, _ := ref.Config["store"].(string)
		if store == "" {
			store = ref.Name
		}
		return NewKnowledgeSearchTool(searcher, store), nil

	case SourceBuiltin, Source(""):
		if direct {
			return tool, nil
		}
		return nil, fmt.Errorf("tools: %q not found", ref.Name)

	default:
		if provider != nil {
			return provider.Tool(ctx, ref)
		}
		if direct {
			return tool, nil
		}
		return nil, fmt.Errorf("tools: %q: no provider for source %q", ref.Name, ref.Source)
	}
}
