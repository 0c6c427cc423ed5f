package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/maestro/internal/config"
	"github.com/haasonsaas/maestro/internal/conversation"
	"github.com/haasonsaas/maestro/internal/llm"
	"github.com/haasonsaas/maestro/internal/memory"
	"github.com/haasonsaas/maestro/internal/skills"
	"github.com/haasonsaas/maestro/internal/tools"
	"github.com/haasonsaas/maestro/pkg/models"
)

const (
	maxInputSummaryLen  = 200
	maxOutputSummaryLen = 500

	agentErrorPrefix = "Agent error: "
)

// Deps are the collaborators an executor is built from. Sessions, Memory,
// Skills, and Senders are optional; a nil collaborator disables the
// corresponding behavior.
type Deps struct {
	Models   *llm.Factory
	Tools    *tools.Registry
	Sessions *conversation.Store
	Memory   *memory.Manager
	Skills   *skills.Loader

	// Senders maps an integration kind ("chat", "email") to its outbound
	// surface, used for the auto-injected send tools.
	Senders map[string]tools.MessageSender

	// ToolObserver sees every tool dispatch outcome, used for metrics.
	ToolObserver func(tool, status string)

	Logger *slog.Logger
}

// Executor services invocations of one agent definition. It is safe for
// concurrent use: all per-invocation state lives on the stack.
type Executor struct {
	def          *config.AgentDefinition
	systemPrompt string

	// model is structured-output wrapped when configured; boundModel
	// additionally advertises the tool set.
	model      llm.ChatModel
	boundModel llm.ChatModel
	toolSet    []tools.Tool

	schema     map[string]any
	structured bool

	sessions      *conversation.Store
	maxIterations int
	toolObserver  func(tool, status string)
	logger        *slog.Logger
}

// newLoop builds the per-invocation loop with the dispatch observer
// attached.
func (e *Executor) newLoop() *Loop {
	loop := NewLoop(e.boundModel, e.toolSet, e.maxIterations, e.logger)
	if e.toolObserver != nil {
		loop.OnToolExecution(e.toolObserver)
	}
	return loop
}

// New assembles an executor from a definition: skills and memory are
// folded into the system prompt, the model is obtained and wrapped, and
// the tool set is resolved with built-ins auto-injected.
func New(ctx context.Context, def *config.AgentDefinition, deps Deps) (*Executor, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("agent", def.Name)

	systemPrompt := def.Prompt.System
	sandbox := false

	if def.Skills != nil && deps.Skills != nil {
		block, needsSandbox, err := deps.Skills.Resolve(skills.Selection{
			All:   def.Skills.All,
			Names: def.Skills.Names,
		})
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", def.Name, err)
		}
		if block != "" {
			systemPrompt += "\n\n" + block
		}
		sandbox = needsSandbox
	}

	memoryMaxLines := def.Memory.MaxLines
	if memoryMaxLines <= 0 {
		memoryMaxLines = memory.DefaultMaxLines
	}
	if def.Memory.Enabled && deps.Memory != nil {
		blob, err := deps.Memory.Load(def.Name)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", def.Name, err)
		}
		systemPrompt += "\n\n" + memory.PromptBlock(blob, memoryMaxLines)
	}

	model, err := deps.Models.Model(def.LLM.Name, def.LLM.Temperature)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", def.Name, err)
	}

	var schema map[string]any
	structured := false
	if def.Output != nil {
		switch def.Output.Format {
		case "structured", "json":
			structured = true
			if def.Output.Schema == nil {
				logger.Warn("structured output configured without schema", "format", def.Output.Format)
				break
			}
			wrapped, err := model.WithStructuredOutput(def.Output.Schema)
			if err != nil {
				logger.Warn("structured output wrap failed, using raw model", "error", err)
				break
			}
			model = wrapped
			if def.Output.Format == "structured" {
				schema = def.Output.Schema
			}
		}
	}

	refs := make([]tools.Ref, 0, len(def.Tools))
	for _, tr := range def.Tools {
		refs = append(refs, tools.Ref{
			Name:   tr.Name,
			Source: tools.Source(tr.Source),
			Config: tr.Config,
		})
	}
	toolSet, err := deps.Tools.Resolve(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", def.Name, err)
	}

	var extras []tools.Tool
	if def.Memory.Enabled && deps.Memory != nil {
		extras = append(extras, tools.NewSaveMemoryTool(deps.Memory, def.Name, memoryMaxLines))
	}
	if sandbox {
		sandboxTools, err := deps.Tools.SandboxTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", def.Name, err)
		}
		extras = append(extras, sandboxTools...)
	}
	for _, ig := range def.Integrations {
		if sender, ok := deps.Senders[ig.Type]; ok && sender != nil {
			extras = append(extras, tools.NewIntegrationSendTool(ig.Type, sender))
		}
	}

	seen := make(map[string]bool, len(toolSet))
	for _, t := range toolSet {
		seen[t.Name()] = true
	}
	for _, t := range extras {
		if seen[t.Name()] {
			continue
		}
		seen[t.Name()] = true
		toolSet = append(toolSet, t)
	}

	boundModel := model
	if len(toolSet) > 0 {
		specs := make([]llm.ToolSpec, 0, len(toolSet))
		for _, t := range toolSet {
			specs = append(specs, llm.ToolSpec{
				Name:        t.Name(),
				Description: t.Description(),
				Schema:      t.Schema(),
			})
		}
		boundModel = model.BindTools(specs)
	}

	return &Executor{
		def:           def,
		systemPrompt:  systemPrompt,
		model:         model,
		boundModel:    boundModel,
		toolSet:       toolSet,
		schema:        schema,
		structured:    structured,
		sessions:      deps.Sessions,
		maxIterations: DefaultMaxIterations,
		toolObserver:  deps.ToolObserver,
		logger:        logger,
	}, nil
}

// Definition returns the immutable definition this executor serves.
func (e *Executor) Definition() *config.AgentDefinition { return e.def }

// Attachment is one inline image handed to an invocation.
type Attachment struct {
	Data      string
	MediaType string
}

// Options parameterizes one invocation.
type Options struct {
	// Input is the input variables map. An "attachments" entry of
	// {data, mediaType} objects is lifted out before rendering.
	Input map[string]any

	// SessionID enables session persistence; empty disables it.
	SessionID string

	Attachments []Attachment
}

// ToolCallRecord summarizes one tool call for the result metadata and the
// persisted tool history block.
type ToolCallRecord struct {
	Name   string `json:"name"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Metadata accompanies every result.
type Metadata struct {
	DurationMS            int64            `json:"duration_ms"`
	ToolCalls             []ToolCallRecord `json:"toolCalls,omitempty"`
	SessionID             string           `json:"sessionId,omitempty"`
	MessagesInSession     int              `json:"messagesInSession,omitempty"`
	StructuredOutputValid *bool            `json:"structuredOutputValid,omitempty"`
	Usage                 *models.Usage    `json:"usage,omitempty"`
}

// Result is the outcome of one invocation. Output is a string, or an
// object when structured output is configured.
type Result struct {
	Output   any      `json:"output"`
	Metadata Metadata `json:"metadata"`
}

// Invoke runs the agent to completion. Model and cancellation failures
// produce a Result with a diagnostic output rather than an error; only a
// user interrupt propagates.
func (e *Executor) Invoke(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()

	userText, attachments := e.renderInput(opts)
	human := humanMessage(userText, attachments)

	var history []models.Message
	if opts.SessionID != "" && e.sessions != nil {
		history = e.sessions.Get(opts.SessionID)
		// Text only; attachments are not persisted to the session.
		e.sessions.Add(opts.SessionID, models.HumanMessage(userText))
	}

	var (
		finalText string
		summaries []ToolCallRecord
		usage     *models.Usage
	)

	if len(e.toolSet) == 0 {
		messages := make([]models.Message, 0, len(history)+2)
		messages = append(messages, models.SystemMessage(e.systemPrompt))
		messages = append(messages, history...)
		messages = append(messages, human)

		resp, err := e.model.Invoke(ctx, messages)
		if err != nil {
			return e.failedResult(start, opts, err)
		}
		finalText = resp.Content
		usage = resp.Usage
	} else {
		input := make([]models.Message, 0, len(history)+1)
		input = append(input, history...)
		input = append(input, human)

		loop := e.newLoop()
		chain, loopUsage, err := loop.Run(ctx, e.systemPrompt, input)
		if err != nil {
			return e.failedResult(start, opts, err)
		}
		usage = loopUsage
		summaries = toolSummaries(chain)

		if last := len(chain) - 1; last >= 0 {
			if msg := chain[last]; msg.Role == models.RoleAI && len(msg.ToolCalls) == 0 {
				finalText = msg.Text()
			}
		}
	}

	output, valid := e.finishOutput(finalText)
	e.persistResponse(opts.SessionID, finalText, output, summaries)

	return &Result{
		Output: output,
		Metadata: Metadata{
			DurationMS:            time.Since(start).Milliseconds(),
			ToolCalls:             summaries,
			SessionID:             opts.SessionID,
			MessagesInSession:     e.sessionCount(opts.SessionID),
			StructuredOutputValid: valid,
			Usage:                 usage,
		},
	}, nil
}

// Stream runs the agent while emitting frames. The channel closes when
// the invocation finishes; an error frame is terminal. Cancellation
// persists whatever content and tool summaries accumulated.
func (e *Executor) Stream(ctx context.Context, opts Options) <-chan Frame {
	frames := make(chan Frame)
	go func() {
		defer close(frames)

		userText, attachments := e.renderInput(opts)
		human := humanMessage(userText, attachments)

		var history []models.Message
		if opts.SessionID != "" && e.sessions != nil {
			history = e.sessions.Get(opts.SessionID)
			e.sessions.Add(opts.SessionID, models.HumanMessage(userText))
		}

		input := make([]models.Message, 0, len(history)+1)
		input = append(input, history...)
		input = append(input, human)

		loop := e.newLoop()
		events := loop.RunStream(ctx, e.systemPrompt, input)

		var (
			accumulated strings.Builder
			finalText   string
			summaries   []ToolCallRecord
			usage       *models.Usage
			pending     = map[string]string{}
		)

		for event := range events {
			switch {
			case event.Err != nil:
				text := accumulated.String()
				if text == "" && len(summaries) == 0 {
					text = errorFallbackContent
				}
				if !IsUserInterrupt(event.Err) {
					e.persistResponse(opts.SessionID, text, text, summaries)
				}
				frames <- Frame{Type: FrameError, Error: diagnostic(event.Err)}
				return

			case event.Kind == EventModelChunk:
				if event.Content != "" {
					accumulated.WriteString(event.Content)
					frames <- Frame{Type: FrameContent, Content: event.Content}
				}
				if event.Reasoning != "" {
					frames <- Frame{Type: FrameThinking, Content: event.Reasoning}
				}

			case event.Kind == EventModelEnd:
				if event.Usage != nil {
					if usage == nil {
						usage = &models.Usage{}
					}
					usage.Add(event.Usage)
				}
				if len(event.ToolCalls) == 0 {
					finalText = event.FullContent
				}

			case event.Kind == EventToolStart:
				pending[event.RunID] = string(event.Input)
				frames <- Frame{Type: FrameToolStart, RunID: event.RunID, Name: event.Name, Input: event.Input}

			case event.Kind == EventToolEnd:
				summaries = append(summaries, ToolCallRecord{
					Name:   event.Name,
					Input:  truncate(pending[event.RunID], maxInputSummaryLen),
					Output: truncate(event.Output, maxOutputSummaryLen),
				})
				delete(pending, event.RunID)
				frames <- Frame{Type: FrameToolEnd, RunID: event.RunID, Name: event.Name, Output: event.Output}
			}
		}

		output, _ := e.finishOutput(finalText)
		e.persistResponse(opts.SessionID, finalText, output, summaries)

		if usage != nil {
			frames <- Frame{Type: FrameUsage, Usage: usage}
		}
		if e.structured {
			frames <- Frame{Type: FrameResult, Result: output}
		}
	}()
	return frames
}

// finishOutput applies structured extraction and validation to the final
// model text.
func (e *Executor) finishOutput(finalText string) (any, *bool) {
	if !e.structured {
		return finalText, nil
	}
	output := ExtractStructuredOutput(finalText)
	if e.schema == nil {
		return output, nil
	}
	valid := ValidateShape(output, e.schema)
	return output, &valid
}

// persistResponse appends the ai message for this turn: the final text,
// plus a tool history block when tools ran. Objects persist JSON-encoded.
func (e *Executor) persistResponse(sessionID string, finalText string, output any, summaries []ToolCallRecord) {
	if sessionID == "" || e.sessions == nil {
		return
	}
	content := finalText
	if obj, ok := output.(map[string]any); ok && len(summaries) == 0 {
		if encoded, err := json.Marshal(obj); err == nil {
			content = string(encoded)
		}
	}
	if len(summaries) > 0 {
		var b strings.Builder
		b.WriteString(content)
		b.WriteString("\n\n<tool_history>\n")
		for _, s := range summaries {
			fmt.Fprintf(&b, "[Tool: %s] Input: %s → Output: %s\n", s.Name, s.Input, s.Output)
		}
		b.WriteString("</tool_history>")
		content = b.String()
	}
	e.sessions.Add(sessionID, models.AIMessage(content))
}

func (e *Executor) failedResult(start time.Time, opts Options, err error) (*Result, error) {
	if IsUserInterrupt(err) {
		return nil, err
	}
	diag := diagnostic(err)
	e.logger.Warn("invocation failed", "error", err)
	return &Result{
		Output: agentErrorPrefix + diag,
		Metadata: Metadata{
			DurationMS:        time.Since(start).Milliseconds(),
			SessionID:         opts.SessionID,
			MessagesInSession: e.sessionCount(opts.SessionID),
		},
	}, nil
}

func (e *Executor) sessionCount(sessionID string) int {
	if sessionID == "" || e.sessions == nil {
		return 0
	}
	return e.sessions.Count(sessionID)
}

// renderInput formats the user-visible message from the input variables
// and lifts attachments out of the input map.
func (e *Executor) renderInput(opts Options) (string, []Attachment) {
	input := opts.Input
	attachments := opts.Attachments

	if raw, ok := input["attachments"]; ok {
		attachments = append(attachments, parseAttachments(raw)...)
		trimmed := make(map[string]any, len(input))
		for k, v := range input {
			if k != "attachments" {
				trimmed[k] = v
			}
		}
		input = trimmed
	}

	vars := e.def.Prompt.InputVariables
	switch len(vars) {
	case 0:
		if input == nil {
			input = map[string]any{}
		}
		encoded, err := json.Marshal(input)
		if err != nil {
			return "{}", attachments
		}
		return string(encoded), attachments

	case 1:
		value, ok := input[vars[0]]
		if !ok {
			return "", attachments
		}
		return stringify(value), attachments

	default:
		lines := make([]string, 0, len(vars))
		for _, name := range vars {
			value := ""
			if v, ok := input[name]; ok {
				value = stringify(v)
			}
			lines = append(lines, name+": "+value)
		}
		return strings.Join(lines, "\n"), attachments
	}
}

func humanMessage(text string, attachments []Attachment) models.Message {
	if len(attachments) == 0 {
		return models.HumanMessage(text)
	}
	parts := make([]models.ContentPart, 0, len(attachments)+1)
	parts = append(parts, models.TextPart(text))
	for _, a := range attachments {
		parts = append(parts, models.ImagePart(a.Data, a.MediaType))
	}
	return models.HumanMessageParts(parts)
}

func parseAttachments(raw any) []Attachment {
	entries, ok := raw.([]any)
	if !ok {
		return nil
	}
	var attachments []Attachment
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		data, _ := obj["data"].(string)
		mediaType, _ := obj["mediaType"].(string)
		if data != "" {
			attachments = append(attachments, Attachment{Data: data, MediaType: mediaType})
		}
	}
	return attachments
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		if encoded, err := json.Marshal(v); err == nil {
			return string(encoded)
		}
		return fmt.Sprint(v)
	}
}

// toolSummaries joins ai tool_calls to their tool messages via the call
// id and renders the truncated per-call summary.
func toolSummaries(chain []models.Message) []ToolCallRecord {
	outputs := make(map[string]string)
	for _, msg := range chain {
		if msg.Role == models.RoleTool && msg.ToolCallID != "" {
			outputs[msg.ToolCallID] = msg.Text()
		}
	}

	var records []ToolCallRecord
	for _, msg := range chain {
		if msg.Role != models.RoleAI {
			continue
		}
		for _, call := range msg.ToolCalls {
			output, ok := outputs[call.ID]
			if !ok {
				continue
			}
			records = append(records, ToolCallRecord{
				Name:   call.Name,
				Input:  truncate(string(call.Input), maxInputSummaryLen),
				Output: truncate(output, maxOutputSummaryLen),
			})
		}
	}
	return records
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// diagnostic renders the short user-facing message for a failure.
func diagnostic(err error) string {
	if IsCancellation(err) {
		return abortedMessage
	}
	return err.Error()
}
