// Package memory persists a per-agent long-term note blob under
// <workspace>/.memory/<agent>.md. The blob is rewritten whole by the
// save_memory built-in tool; the model is the sole writer per agent.
package memory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxLines caps the trailing lines kept per agent blob.
const DefaultMaxLines = 100

const memoryDir = ".memory"

// Manager owns the on-disk memory blobs for one workspace.
type Manager struct {
	workspace string
	logger    *slog.Logger
}

// NewManager creates a manager rooted at the workspace directory.
func NewManager(workspace string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		workspace: workspace,
		logger:    logger.With("component", "memory"),
	}
}

// Load reads the agent's memory blob. A missing file is empty memory, not
// an error.
func (m *Manager) Load(agentName string) (string, error) {
	data, err := os.ReadFile(m.path(agentName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("memory: load %s: %w", agentName, err)
	}
	return string(data), nil
}

// Save replaces the agent's memory blob, keeping at most the last maxLines
// lines. The write is atomic: content lands in a temp file which is then
// renamed over the target.
func (m *Manager) Save(agentName, content string, maxLines int) error {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	content = TruncateLines(content, maxLines)

	dir := filepath.Join(m.workspace, memoryDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("memory: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, agentName+".*.tmp")
	if err != nil {
		return fmt.Errorf("memory: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("memory: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: close temp: %w", err)
	}
	if err := os.Rename(tmpName, m.path(agentName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: rename: %w", err)
	}

	m.logger.Debug("memory saved", "agent", agentName, "bytes", len(content))
	return nil
}

func (m *Manager) path(agentName string) string {
	return filepath.Join(m.workspace, memoryDir, agentName+".md")
}

// TruncateLines keeps the last maxLines lines of content.
func TruncateLines(content string, maxLines int) string {
	lines := strings.Split(content, "\n")
	if len(lines) <= maxLines {
		return content
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}

// PromptBlock renders the system prompt suffix carrying the current memory
// and the fixed instruction template.
func PromptBlock(content string, maxLines int) string {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	body := strings.TrimSpace(content)
	if body == "" {
		body = "(empty - no memories saved yet)"
	}
	return fmt.Sprintf(`<long_term_memory>
%s
</long_term_memory>

<memory_instructions>
You have a persistent long-term memory shown above. To update it, call the save_memory tool with the complete new content. Saving REPLACES the entire memory, so always include everything worth keeping, not just the new fact. The memory holds at most %d lines; older lines beyond that budget are discarded from the top.
</memory_instructions>`, body, maxLines)
}
