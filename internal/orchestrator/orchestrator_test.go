package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/maestro/internal/config"
	"github.com/haasonsaas/maestro/internal/llm"
	"github.com/haasonsaas/maestro/internal/tools"
	"github.com/haasonsaas/maestro/internal/triggers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeAgent(t *testing.T, workspace, name, content string) {
	t.Helper()
	dir := filepath.Join(workspace, "agents")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testConfig(workspace string) *config.Config {
	cfg := &config.Config{
		Workspace: workspace,
		Models: map[string]llm.ModelConfig{
			"default": {Provider: "openai", Model: "gpt-4o-mini", APIKey: "test-key"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

const reporterAgent = `name: reporter
llm: default
prompt:
  system: You summarize the news.
  inputVariables: [topic]
triggers:
  - type: webhook
`

func TestNewDiscoversAgentsAndRegistersWebhooks(t *testing.T) {
	workspace := t.TempDir()
	writeAgent(t, workspace, "reporter.yaml", reporterAgent)

	o, err := New(context.Background(), testConfig(workspace), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer o.Shutdown(context.Background())

	if _, ok := o.Executor("reporter"); !ok {
		t.Fatal("reporter executor missing")
	}
	if _, ok := o.Executor("ghost"); ok {
		t.Fatal("unexpected executor")
	}
	if got := len(o.Agents()); got != 1 {
		t.Fatalf("agents = %d", got)
	}

	req := httptest.NewRequest(http.MethodGet, triggers.WebhookPathPrefix+"reporter", nil)
	rec := httptest.NewRecorder()
	o.webhooks.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("registered webhook should reject GET, got %d", rec.Code)
	}
}

func TestNewEmptyWorkspace(t *testing.T) {
	o, err := New(context.Background(), testConfig(t.TempDir()), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer o.Shutdown(context.Background())

	if got := len(o.Agents()); got != 0 {
		t.Fatalf("agents = %d", got)
	}
	if o.Sessions() == nil || o.Registry() == nil {
		t.Fatal("fabric accessors returned nil")
	}
}

func TestNewRejectsUnknownModelRef(t *testing.T) {
	workspace := t.TempDir()
	writeAgent(t, workspace, "broken.yaml", "name: broken\nllm: missing\nprompt:\n  system: hi\n")

	if _, err := New(context.Background(), testConfig(workspace), testLogger()); err == nil {
		t.Fatal("expected unknown model error")
	}
}

func TestNewRejectsUnsupportedIntegration(t *testing.T) {
	def := &config.AgentDefinition{Name: "x"}
	o := &Orchestrator{logger: testLogger()}
	if _, _, err := o.buildConnector(def, config.IntegrationConfig{Type: "pager"}, &executorHolder{}); err == nil {
		t.Fatal("expected unsupported integration error")
	}
}

func TestShutdownIsIdempotentOnServer(t *testing.T) {
	o, err := New(context.Background(), testConfig(t.TempDir()), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Shutdown before Start: no server, no connectors.
	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

type stubSender struct{ name string }

func (s stubSender) Send(ctx context.Context, text string) error { return nil }

type stubConnector struct{}

func (stubConnector) Start(ctx context.Context) error { return nil }
func (stubConnector) Stop()                           {}
func (stubConnector) RecentMessages() []string        { return nil }
func (stubConnector) ChannelMembers() []string        { return nil }

func TestCronBindingHonorsDeclaredIntegration(t *testing.T) {
	chatSender := stubSender{name: "chat"}
	emailSender := stubSender{name: "email"}
	agentConnectors := []namedConnector{
		{agent: "a", kind: "email", conn: stubConnector{}},
		{agent: "a", kind: "chat", conn: stubConnector{}},
	}
	senders := map[string]tools.MessageSender{
		"chat":  chatSender,
		"email": emailSender,
	}

	conns, poster, err := cronBinding(config.TriggerConfig{Integration: "chat"}, agentConnectors, senders)
	if err != nil {
		t.Fatalf("cronBinding: %v", err)
	}
	if len(conns) != 2 {
		t.Errorf("context connectors = %d, want all of the agent's", len(conns))
	}
	if got, ok := poster.(stubSender); !ok || got.name != "chat" {
		t.Errorf("poster = %+v, want the declared integration's sender", poster)
	}

	// Undeclared integration falls back to the first sender-capable
	// connector, in declaration order.
	_, poster, err = cronBinding(config.TriggerConfig{}, agentConnectors, senders)
	if err != nil {
		t.Fatalf("cronBinding: %v", err)
	}
	if got, ok := poster.(stubSender); !ok || got.name != "email" {
		t.Errorf("fallback poster = %+v", poster)
	}

	if _, _, err := cronBinding(config.TriggerConfig{Integration: "pager"}, agentConnectors, senders); err == nil {
		t.Fatal("expected unknown integration error")
	}
}
