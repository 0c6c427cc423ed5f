package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleSkill = `---
name: summarize
description: Summarize long documents
---

Read the document and produce a three-sentence summary.
`

const sandboxSkill = `---
name: run-scripts
description: Execute helper scripts
sandbox: true
---

Use the sandbox to run the scripts referenced below.
`

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParse(t *testing.T) {
	skill, err := Parse([]byte(sampleSkill))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if skill.Name != "summarize" || skill.Sandbox {
		t.Errorf("skill = %+v", skill)
	}
	if !strings.HasPrefix(skill.Content, "Read the document") {
		t.Errorf("content = %q", skill.Content)
	}
}

func TestParseRejectsMissingFrontmatter(t *testing.T) {
	if _, err := Parse([]byte("no frontmatter here")); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Parse([]byte("---\nname: x\ndescription: y")); err == nil {
		t.Fatal("expected error for unclosed frontmatter")
	}
}

func TestResolveAll(t *testing.T) {
	workspace := t.TempDir()
	writeSkill(t, filepath.Join(workspace, "skills"), "summarize.md", sampleSkill)
	writeSkill(t, filepath.Join(workspace, "skills", "run-scripts"), Filename, sandboxSkill)

	loader := NewLoader(workspace, nil)
	block, sandbox, err := loader.Resolve(Selection{All: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !sandbox {
		t.Error("sandbox flag should propagate from run-scripts")
	}
	if !strings.Contains(block, "## summarize") || !strings.Contains(block, "## run-scripts") {
		t.Errorf("block missing skills:\n%s", block)
	}
	if !strings.HasPrefix(block, "<skills>") || !strings.HasSuffix(block, "</skills>") {
		t.Errorf("block not wrapped:\n%s", block)
	}
}

func TestResolveExplicitList(t *testing.T) {
	workspace := t.TempDir()
	writeSkill(t, filepath.Join(workspace, "skills"), "summarize.md", sampleSkill)
	writeSkill(t, filepath.Join(workspace, "skills"), "run-scripts.md", sandboxSkill)

	loader := NewLoader(workspace, nil)
	block, sandbox, err := loader.Resolve(Selection{Names: []string{"summarize"}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sandbox {
		t.Error("sandbox flag should not be set for summarize only")
	}
	if strings.Contains(block, "run-scripts") {
		t.Error("unselected skill leaked into block")
	}
}

func TestResolveUnknownSkillFails(t *testing.T) {
	loader := NewLoader(t.TempDir(), nil)
	if _, _, err := loader.Resolve(Selection{Names: []string{"ghost"}}); err == nil {
		t.Fatal("expected error for unknown skill")
	}
}

func TestResolveEmptyWorkspace(t *testing.T) {
	loader := NewLoader(t.TempDir(), nil)
	block, sandbox, err := loader.Resolve(Selection{All: true})
	if err != nil || block != "" || sandbox {
		t.Errorf("got block=%q sandbox=%v err=%v", block, sandbox, err)
	}
}
