// Package orchestrator owns the runtime lifecycle: it loads agent
// definitions, builds the shared fabric (models, sessions, memory, tools,
// skills), wires integrations and triggers, and serves until shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/maestro/internal/agent"
	"github.com/haasonsaas/maestro/internal/config"
	"github.com/haasonsaas/maestro/internal/conversation"
	"github.com/haasonsaas/maestro/internal/integrations"
	"github.com/haasonsaas/maestro/internal/integrations/chat"
	"github.com/haasonsaas/maestro/internal/integrations/email"
	"github.com/haasonsaas/maestro/internal/llm"
	"github.com/haasonsaas/maestro/internal/memory"
	"github.com/haasonsaas/maestro/internal/observability"
	"github.com/haasonsaas/maestro/internal/skills"
	"github.com/haasonsaas/maestro/internal/tools"
	"github.com/haasonsaas/maestro/internal/triggers"
)

const shutdownTimeout = 10 * time.Second

// Orchestrator is the root object of a running workspace.
type Orchestrator struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics      *observability.Metrics
	promRegistry *prometheus.Registry
	models       *llm.Factory
	sessions *conversation.Store
	memory   *memory.Manager
	skills   *skills.Loader
	registry *tools.Registry

	executors  map[string]*agent.Executor
	connectors []namedConnector
	cron       *triggers.Cron
	webhooks   *triggers.Webhooks

	server        *http.Server
	metricsServer *http.Server
}

type namedConnector struct {
	agent string
	kind  string
	conn  integrations.Connector
}

// executorHolder breaks the construction cycle between connectors (whose
// handlers need the executor) and the executor (whose auto-injected send
// tools need the connectors).
type executorHolder struct {
	exec *agent.Executor
}

// New builds the full runtime in initialization order: fabric first, then
// one executor per discovered agent, then triggers.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	promRegistry := prometheus.NewRegistry()
	o := &Orchestrator{
		cfg:          cfg,
		logger:       logger,
		metrics:      observability.NewMetrics(promRegistry),
		promRegistry: promRegistry,
		models:       llm.NewFactory(cfg.Models, logger),
		memory:       memory.NewManager(cfg.Workspace, logger),
		skills:       skills.NewLoader(cfg.Workspace, logger),
		registry:     tools.NewRegistry(logger),
		executors:    make(map[string]*agent.Executor),
		cron:         triggers.NewCron(logger),
		webhooks:     triggers.NewWebhooks(logger),
	}

	o.cron.OnFire(func(agent string) { o.metrics.RecordTriggerFire("cron", agent) })
	o.webhooks.OnFire(func(agent string) { o.metrics.RecordTriggerFire("webhook", agent) })

	storeOpts := []conversation.Option{
		conversation.WithLogger(logger),
		conversation.WithCountObserver(o.metrics.SetActiveSessions),
	}
	if cfg.Session.MaxMessages > 0 {
		storeOpts = append(storeOpts, conversation.WithMaxMessages(cfg.Session.MaxMessages))
	}
	if cfg.Session.TTL > 0 {
		storeOpts = append(storeOpts, conversation.WithTTL(cfg.Session.TTL))
	}
	o.sessions = conversation.NewStore(storeOpts...)

	defs, err := config.DiscoverAgents(cfg.Workspace)
	if err != nil {
		o.sessions.Destroy()
		return nil, err
	}
	for _, def := range defs {
		if err := o.buildAgent(ctx, def); err != nil {
			o.sessions.Destroy()
			return nil, err
		}
	}

	o.logger.Info("orchestrator ready", "agents", len(o.executors), "connectors", len(o.connectors))
	return o, nil
}

// buildAgent constructs the executor for one definition, its integration
// connectors, and its triggers.
func (o *Orchestrator) buildAgent(ctx context.Context, def *config.AgentDefinition) error {
	holder := &executorHolder{}

	senders := make(map[string]tools.MessageSender)
	var agentConnectors []namedConnector
	for _, ig := range def.Integrations {
		conn, sender, err := o.buildConnector(def, ig, holder)
		if err != nil {
			return err
		}
		agentConnectors = append(agentConnectors, namedConnector{agent: def.Name, kind: ig.Type, conn: conn})
		// One send tool per integration kind; first declaration wins.
		if _, ok := senders[ig.Type]; !ok && sender != nil {
			senders[ig.Type] = sender
		}
	}

	exec, err := agent.New(ctx, def, agent.Deps{
		Models:       o.models,
		Tools:        o.registry,
		Sessions:     o.sessions,
		Memory:       o.memory,
		Skills:       o.skills,
		Senders:      senders,
		ToolObserver: o.metrics.RecordToolExecution,
		Logger:       o.logger,
	})
	if err != nil {
		return err
	}
	holder.exec = exec
	o.executors[def.Name] = exec
	o.connectors = append(o.connectors, agentConnectors...)

	runner := o.instrumented(def.Name, exec)
	for _, trig := range def.Triggers {
		switch trig.Type {
		case "cron":
			conns, poster, err := cronBinding(trig, agentConnectors, senders)
			if err != nil {
				return fmt.Errorf("agent %q: %w", def.Name, err)
			}
			if err := o.cron.Register(def.Name, trig, runner, conns, poster); err != nil {
				return err
			}
		case "webhook":
			if err := o.webhooks.Register(def.Name, trig, runner); err != nil {
				return err
			}
		}
	}
	return nil
}

// cronBinding selects the connectors feeding context into a cron fire and
// the poster receiving its result. Context comes from all of the agent's
// connectors; the poster honors the trigger's declared integration.
func cronBinding(trig config.TriggerConfig, agentConnectors []namedConnector, senders map[string]tools.MessageSender) ([]integrations.Connector, triggers.ResultPoster, error) {
	conns := make([]integrations.Connector, 0, len(agentConnectors))
	for _, nc := range agentConnectors {
		conns = append(conns, nc.conn)
	}

	if trig.Integration != "" {
		sender, ok := senders[trig.Integration]
		if !ok {
			return nil, nil, fmt.Errorf("cron trigger names unknown integration %q", trig.Integration)
		}
		return conns, sender, nil
	}
	for _, nc := range agentConnectors {
		if sender, ok := senders[nc.kind]; ok {
			return conns, sender, nil
		}
	}
	return conns, nil, nil
}

func (o *Orchestrator) buildConnector(def *config.AgentDefinition, ig config.IntegrationConfig, holder *executorHolder) (integrations.Connector, tools.MessageSender, error) {
	onDepth := o.queueDepthObserver(def.Name, ig.Type)
	switch ig.Type {
	case "chat":
		conn := chat.New(def.Name, chat.Config{
			URL:          ig.URL,
			Channel:      ig.Channel,
			BotName:      ig.BotName,
			Password:     ig.ChannelPassword,
			OnQueueDepth: onDepth,
		}, o.chatHandler(def, ig, holder), o.logger)
		return conn, conn, nil

	case "email":
		conn := email.New(def.Name, email.Config{
			IMAPHost:     ig.IMAPHost,
			IMAPPort:     ig.IMAPPort,
			SMTPHost:     ig.SMTPHost,
			SMTPPort:     ig.SMTPPort,
			Username:     ig.Username,
			Password:     ig.Password,
			From:         ig.From,
			PollInterval: ig.PollInterval,
			OnQueueDepth: onDepth,
		}, o.emailHandler(def, ig, holder), o.logger)
		return conn, nil, nil

	default:
		return nil, nil, fmt.Errorf("agent %q: unsupported integration type %q", def.Name, ig.Type)
	}
}

func (o *Orchestrator) queueDepthObserver(agentName, kind string) func(depth int) {
	connector := agentName + "-" + kind
	return func(depth int) {
		o.metrics.SetQueueDepth(connector, depth)
	}
}

// chatHandler dispatches channel commands under the stable channel
// session.
func (o *Orchestrator) chatHandler(def *config.AgentDefinition, ig config.IntegrationConfig, holder *executorHolder) integrations.Handler {
	sessionID := integrations.ChatSessionID(def.Name, ig.Channel)
	return func(ctx context.Context, body, sender string, meta map[string]any) (string, error) {
		o.metrics.RecordDispatch("chat", def.Name)
		return o.dispatch(ctx, def, holder, body, sender, meta, sessionID)
	}
}

// emailHandler dispatches mail under a per-sender session.
func (o *Orchestrator) emailHandler(def *config.AgentDefinition, ig config.IntegrationConfig, holder *executorHolder) integrations.Handler {
	return func(ctx context.Context, body, sender string, meta map[string]any) (string, error) {
		o.metrics.RecordDispatch("email", def.Name)
		return o.dispatch(ctx, def, holder, body, sender, meta, integrations.EmailSessionID(def.Name, sender))
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, def *config.AgentDefinition, holder *executorHolder, body, sender string, meta map[string]any, sessionID string) (string, error) {
	exec := holder.exec
	if exec == nil {
		return "", fmt.Errorf("agent %q not ready", def.Name)
	}

	input := map[string]any{"sender": sender}
	for k, v := range meta {
		input[k] = v
	}
	key := "command"
	if len(def.Prompt.InputVariables) > 0 {
		key = def.Prompt.InputVariables[0]
	}
	input[key] = body

	result, err := exec.Invoke(ctx, agent.Options{Input: input, SessionID: sessionID})
	if err != nil {
		return "", err
	}
	if text, ok := result.Output.(string); ok {
		return text, nil
	}
	return fmt.Sprintf("%v", result.Output), nil
}

// instrumented wraps an executor with invocation metrics.
func (o *Orchestrator) instrumented(name string, exec *agent.Executor) triggers.Runner {
	return &instrumentedRunner{name: name, exec: exec, metrics: o.metrics}
}

type instrumentedRunner struct {
	name    string
	exec    *agent.Executor
	metrics *observability.Metrics
}

func (r *instrumentedRunner) Invoke(ctx context.Context, opts agent.Options) (*agent.Result, error) {
	start := time.Now()
	result, err := r.exec.Invoke(ctx, opts)
	status := "success"
	if err != nil {
		status = "error"
	}
	inTokens, outTokens := 0, 0
	if result != nil && result.Metadata.Usage != nil {
		inTokens = result.Metadata.Usage.InputTokens
		outTokens = result.Metadata.Usage.OutputTokens
	}
	r.metrics.RecordInvocation(r.name, status, time.Since(start).Seconds(), inTokens, outTokens)
	return result, err
}

// Executor returns the executor for a named agent.
func (o *Orchestrator) Executor(name string) (*agent.Executor, bool) {
	exec, ok := o.executors[name]
	return exec, ok
}

// Agents returns the loaded agent definitions.
func (o *Orchestrator) Agents() []*config.AgentDefinition {
	defs := make([]*config.AgentDefinition, 0, len(o.executors))
	for _, exec := range o.executors {
		defs = append(defs, exec.Definition())
	}
	return defs
}

// Sessions exposes the conversation store.
func (o *Orchestrator) Sessions() *conversation.Store { return o.sessions }

// Registry exposes the tool registry for provider attachment before Start.
func (o *Orchestrator) Registry() *tools.Registry { return o.registry }

// Start brings up connectors, the cron scheduler, and the HTTP listener.
func (o *Orchestrator) Start(ctx context.Context) error {
	for _, nc := range o.connectors {
		if err := nc.conn.Start(ctx); err != nil {
			return fmt.Errorf("connector %s/%s: %w", nc.agent, nc.kind, err)
		}
	}
	o.cron.Start()

	metricsHandler := promhttp.HandlerFor(o.promRegistry, promhttp.HandlerOpts{})

	mux := http.NewServeMux()
	mux.Handle(triggers.WebhookPathPrefix, o.webhooks)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if o.cfg.Server.MetricsPort > 0 && o.cfg.Server.MetricsPort != o.cfg.Server.Port {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		o.metricsServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", o.cfg.Server.Host, o.cfg.Server.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := o.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				o.logger.Error("metrics server failed", "error", err)
			}
		}()
	} else {
		mux.Handle("/metrics", metricsHandler)
	}

	o.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", o.cfg.Server.Host, o.cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := o.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			o.logger.Error("http server failed", "error", err)
		}
	}()
	o.logger.Info("serving", "addr", o.server.Addr)
	return nil
}

// Shutdown tears the runtime down in reverse order: triggers, connectors,
// HTTP listener, then the session store.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cron.Stop()
	for _, nc := range o.connectors {
		nc.conn.Stop()
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if o.server != nil {
		if err := o.server.Shutdown(ctx); err != nil {
			o.logger.Warn("http shutdown", "error", err)
		}
	}
	if o.metricsServer != nil {
		if err := o.metricsServer.Shutdown(ctx); err != nil {
			o.logger.Warn("metrics shutdown", "error", err)
		}
	}
	o.sessions.Destroy()
	o.logger.Info("orchestrator stopped")
	return nil
}
