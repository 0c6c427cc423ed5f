package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeWorkspace(t *testing.T) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()

	configPath = filepath.Join(dir, "maestro.yaml")
	configYAML := "workspace: " + dir + "\nmodels:\n  default:\n    provider: openai\n    model: gpt-4o-mini\n    apiKey: test-key\n"
	if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	agentsDir := filepath.Join(dir, "agents")
	if err := os.MkdirAll(agentsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	agentYAML := "name: greeter\ndescription: Says hello\nllm: default\nprompt:\n  system: Greet the user.\n"
	if err := os.WriteFile(filepath.Join(agentsDir, "greeter.yaml"), []byte(agentYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, configPath
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateReportsAgents(t *testing.T) {
	_, configPath := writeWorkspace(t)

	out, err := runCommand(t, "validate", "--config", configPath)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Agent OK: greeter") {
		t.Errorf("output missing agent line:\n%s", out)
	}
}

func TestValidateRejectsUnknownModel(t *testing.T) {
	dir, configPath := writeWorkspace(t)
	broken := "name: broken\nllm: missing\nprompt:\n  system: hi\n"
	if err := os.WriteFile(filepath.Join(dir, "agents", "broken.yaml"), []byte(broken), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := runCommand(t, "validate", "--config", configPath); err == nil {
		t.Fatal("expected unknown model error")
	}
}

func TestAgentsListsDefinitions(t *testing.T) {
	_, configPath := writeWorkspace(t)

	out, err := runCommand(t, "agents", "--config", configPath)
	if err != nil {
		t.Fatalf("agents: %v\n%s", err, out)
	}
	if !strings.Contains(out, "greeter") || !strings.Contains(out, "Says hello") {
		t.Errorf("output = %q", out)
	}
}

func TestValidateMissingConfig(t *testing.T) {
	if _, err := runCommand(t, "validate", "--config", "/nonexistent/maestro.yaml"); err == nil {
		t.Fatal("expected load error")
	}
}
