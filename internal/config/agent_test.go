package config

import (
	"testing"
)

const fullAgent = `
name: researcher
description: Researches topics on demand
llm:
  name: fast
  temperature: 0.2
prompt:
  system: You are a research assistant.
  inputVariables: [topic]
tools:
  - web_search
  - name: search_docs
    source: knowledge
    config:
      store: docs
skills:
  mode: all
output:
  format: structured
  schema:
    type: object
    required: [summary]
    properties:
      summary: {type: string}
memory:
  enabled: true
  maxLines: 40
triggers:
  - type: cron
    schedule: "0 9 * * *"
    input:
      topic: daily digest
`

func TestLoadAgent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "researcher.yaml", fullAgent)

	def, err := LoadAgent(path)
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}
	if def.Name != "researcher" || def.Version != "1.0.0" {
		t.Errorf("def = %+v", def)
	}
	if def.LLM.Name != "fast" || def.LLM.Temperature == nil || *def.LLM.Temperature != 0.2 {
		t.Errorf("llm = %+v", def.LLM)
	}
	if len(def.Tools) != 2 || def.Tools[0].Name != "web_search" || def.Tools[1].Source != "knowledge" {
		t.Errorf("tools = %+v", def.Tools)
	}
	if def.Tools[1].Config["store"] != "docs" {
		t.Errorf("tool config = %+v", def.Tools[1].Config)
	}
	if def.Skills == nil || !def.Skills.All {
		t.Errorf("skills = %+v", def.Skills)
	}
	if def.Output == nil || def.Output.Format != "structured" || def.Output.Schema == nil {
		t.Errorf("output = %+v", def.Output)
	}
	if !def.Memory.Enabled || def.Memory.MaxLines != 40 {
		t.Errorf("memory = %+v", def.Memory)
	}
	if len(def.Triggers) != 1 || def.Triggers[0].Schedule != "0 9 * * *" {
		t.Errorf("triggers = %+v", def.Triggers)
	}
}

func TestLoadAgentScalarForms(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "minimal.yaml", `
name: minimal
llm: fast
prompt:
  system: Be brief.
memory: true
skills: [summarize]
`)

	def, err := LoadAgent(path)
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}
	if def.LLM.Name != "fast" || def.LLM.Temperature != nil {
		t.Errorf("llm = %+v", def.LLM)
	}
	if !def.Memory.Enabled || def.Memory.MaxLines != 0 {
		t.Errorf("memory = %+v", def.Memory)
	}
	if def.Skills == nil || def.Skills.All || len(def.Skills.Names) != 1 {
		t.Errorf("skills = %+v", def.Skills)
	}
}

func TestLoadAgentValidation(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing-name.yaml":   "llm: fast\nprompt: {system: x}\n",
		"missing-llm.yaml":    "name: a\nprompt: {system: x}\n",
		"missing-prompt.yaml": "name: a\nllm: fast\n",
		"bad-format.yaml":     "name: a\nllm: fast\nprompt: {system: x}\noutput: {format: xml}\n",
		"bad-trigger.yaml":    "name: a\nllm: fast\nprompt: {system: x}\ntriggers: [{type: cron}]\n",
	}
	for name, content := range cases {
		path := writeFile(t, dir, name, content)
		if _, err := LoadAgent(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDiscoverAgents(t *testing.T) {
	workspace := t.TempDir()
	writeFile(t, workspace, "agents/b.yaml", "name: beta\nllm: fast\nprompt: {system: x}\n")
	writeFile(t, workspace, "agents/a.yaml", "name: alpha\nllm: fast\nprompt: {system: x}\n")
	writeFile(t, workspace, "agents/notes.txt", "ignored")

	defs, err := DiscoverAgents(workspace)
	if err != nil {
		t.Fatalf("DiscoverAgents: %v", err)
	}
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "beta" {
		t.Errorf("defs = %+v", defs)
	}
}

func TestDiscoverAgentsRejectsDuplicateNames(t *testing.T) {
	workspace := t.TempDir()
	writeFile(t, workspace, "agents/one.yaml", "name: same\nllm: fast\nprompt: {system: x}\n")
	writeFile(t, workspace, "agents/two.yaml", "name: same\nllm: fast\nprompt: {system: x}\n")

	if _, err := DiscoverAgents(workspace); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestDiscoverAgentsMissingDir(t *testing.T) {
	defs, err := DiscoverAgents(t.TempDir())
	if err != nil || defs != nil {
		t.Errorf("got defs=%v err=%v", defs, err)
	}
}
