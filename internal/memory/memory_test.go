package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingIsEmpty(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	content, err := m.Load("ghost")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if content != "" {
		t.Errorf("content = %q, want empty", content)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	if err := m.Save("helper", "likes Go\nprefers brevity", 100); err != nil {
		t.Fatalf("Save: %v", err)
	}
	content, err := m.Load("helper")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if content != "likes Go\nprefers brevity" {
		t.Errorf("content = %q", content)
	}
}

func TestSaveTruncatesToTrailingLines(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)

	var lines []string
	for i := 1; i <= 10; i++ {
		lines = append(lines, "line")
	}
	if err := m.Save("helper", strings.Join(lines, "\n"), 4); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ".memory", "helper.md"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := len(strings.Split(string(data), "\n")); got != 4 {
		t.Errorf("on-disk line count = %d, want 4", got)
	}
}

func TestSaveIsIdempotentUnderCap(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	if err := m.Save("helper", "a\nb", 100); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, _ := m.Load("helper")
	if err := m.Save("helper", loaded, 100); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	again, _ := m.Load("helper")
	if again != loaded {
		t.Errorf("save(load()) changed content: %q != %q", again, loaded)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)
	if err := m.Save("helper", "content", 100); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(dir, ".memory"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "helper.md" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}

func TestPromptBlock(t *testing.T) {
	block := PromptBlock("", 100)
	if !strings.Contains(block, "(empty - no memories saved yet)") {
		t.Error("empty memory marker missing")
	}
	if !strings.Contains(block, "<memory_instructions>") {
		t.Error("instruction block missing")
	}
	if !strings.Contains(block, "100 lines") {
		t.Error("line budget missing from instructions")
	}

	block = PromptBlock("remembered fact", 50)
	if !strings.Contains(block, "<long_term_memory>\nremembered fact\n</long_term_memory>") {
		t.Errorf("memory body not wrapped correctly:\n%s", block)
	}
}
