package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentDefinition is one declarative agent record. Definitions are
// immutable once loaded.
type AgentDefinition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`

	LLM    LLMRef       `yaml:"llm"`
	Prompt PromptConfig `yaml:"prompt"`

	Tools  []ToolRef     `yaml:"tools"`
	Skills *SkillsConfig `yaml:"skills"`
	Output *OutputConfig `yaml:"output"`
	Memory MemoryConfig  `yaml:"memory"`

	Integrations []IntegrationConfig `yaml:"integrations"`
	Triggers     []TriggerConfig     `yaml:"triggers"`
}

type PromptConfig struct {
	System         string   `yaml:"system"`
	InputVariables []string `yaml:"inputVariables"`
}

// LLMRef names a model config, optionally overriding its temperature.
// Accepts a bare string or {name, temperature}.
type LLMRef struct {
	Name        string
	Temperature *float64
}

func (r *LLMRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&r.Name)
	}
	var obj struct {
		Name        string   `yaml:"name"`
		Temperature *float64 `yaml:"temperature"`
	}
	if err := value.Decode(&obj); err != nil {
		return err
	}
	r.Name = obj.Name
	r.Temperature = obj.Temperature
	return nil
}

// ToolRef is one entry of an agent's declared tool list. Accepts a bare
// name or {name, source, config}.
type ToolRef struct {
	Name   string
	Source string
	Config map[string]any
}

func (r *ToolRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&r.Name)
	}
	var obj struct {
		Name   string         `yaml:"name"`
		Source string         `yaml:"source"`
		Config map[string]any `yaml:"config"`
	}
	if err := value.Decode(&obj); err != nil {
		return err
	}
	r.Name = obj.Name
	r.Source = obj.Source
	r.Config = obj.Config
	return nil
}

// SkillsConfig selects skills. Accepts {mode: all} or an explicit list
// of skill names.
type SkillsConfig struct {
	All   bool
	Names []string
}

func (s *SkillsConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		return value.Decode(&s.Names)
	}
	var obj struct {
		Mode string `yaml:"mode"`
	}
	if err := value.Decode(&obj); err != nil {
		return err
	}
	if obj.Mode != "all" {
		return fmt.Errorf("skills: unsupported mode %q", obj.Mode)
	}
	s.All = true
	return nil
}

// OutputConfig selects the response format. Schema applies to the
// structured format only.
type OutputConfig struct {
	Format string         `yaml:"format"`
	Schema map[string]any `yaml:"schema"`
}

// MemoryConfig enables per-agent long-term memory. Accepts a bare bool
// or {enabled, maxLines}.
type MemoryConfig struct {
	Enabled  bool
	MaxLines int
}

func (m *MemoryConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&m.Enabled)
	}
	var obj struct {
		Enabled  bool `yaml:"enabled"`
		MaxLines int  `yaml:"maxLines"`
	}
	if err := value.Decode(&obj); err != nil {
		return err
	}
	m.Enabled = obj.Enabled
	m.MaxLines = obj.MaxLines
	return nil
}

// IntegrationConfig binds the agent to an external conversation surface.
type IntegrationConfig struct {
	// Type is "chat" or "email".
	Type string `yaml:"type"`

	// Chat connector.
	URL             string `yaml:"url"`
	Channel         string `yaml:"channel"`
	BotName         string `yaml:"botName"`
	ChannelPassword string `yaml:"channelPassword"`

	// Email connector.
	IMAPHost     string        `yaml:"imapHost"`
	IMAPPort     int           `yaml:"imapPort"`
	SMTPHost     string        `yaml:"smtpHost"`
	SMTPPort     int           `yaml:"smtpPort"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	From         string        `yaml:"from"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// TriggerConfig schedules or exposes an invocation of the agent.
type TriggerConfig struct {
	// Type is "cron" or "webhook".
	Type string `yaml:"type"`

	// Schedule is the cron expression for cron triggers.
	Schedule string `yaml:"schedule"`

	// Path overrides the derived webhook route.
	Path string `yaml:"path"`

	// Input is the declared input map submitted on fire.
	Input map[string]any `yaml:"input"`

	// Integration names the channel the cron result is posted back to.
	Integration string `yaml:"integration"`
}

// ApplyDefaults fills unset definition fields.
func (d *AgentDefinition) ApplyDefaults() {
	if d.Version == "" {
		d.Version = "1.0.0"
	}
}

// Validate checks the definition for consistency.
func (d *AgentDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("agent definition missing name")
	}
	if d.LLM.Name == "" {
		return fmt.Errorf("agent %q missing llm reference", d.Name)
	}
	if d.Prompt.System == "" {
		return fmt.Errorf("agent %q missing prompt.system", d.Name)
	}
	if d.Output != nil {
		switch d.Output.Format {
		case "", "text", "json", "structured":
		default:
			return fmt.Errorf("agent %q: unsupported output format %q", d.Name, d.Output.Format)
		}
	}
	for i, tr := range d.Tools {
		if tr.Name == "" {
			return fmt.Errorf("agent %q: tool entry %d missing name", d.Name, i)
		}
	}
	for i, ig := range d.Integrations {
		switch ig.Type {
		case "chat", "email":
		default:
			return fmt.Errorf("agent %q: integration %d has unsupported type %q", d.Name, i, ig.Type)
		}
	}
	for i, tg := range d.Triggers {
		switch tg.Type {
		case "cron":
			if tg.Schedule == "" {
				return fmt.Errorf("agent %q: cron trigger %d missing schedule", d.Name, i)
			}
		case "webhook":
		default:
			return fmt.Errorf("agent %q: trigger %d has unsupported type %q", d.Name, i, tg.Type)
		}
	}
	return nil
}
