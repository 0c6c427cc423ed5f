package triggers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/maestro/internal/config"
	"github.com/haasonsaas/maestro/internal/integrations"
)

// ResultPoster posts a cron result back to an integration surface.
type ResultPoster interface {
	Send(ctx context.Context, text string) error
}

// Cron schedules agent invocations from cron trigger declarations.
type Cron struct {
	cron   *cron.Cron
	logger *slog.Logger

	// onFire observes every fire, used for metrics.
	onFire func(agent string)
}

// OnFire registers a fire observer. Must be called before Start.
func (c *Cron) OnFire(fn func(agent string)) { c.onFire = fn }

// NewCron creates an idle scheduler; Start begins firing.
func NewCron(logger *slog.Logger) *Cron {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cron{
		cron:   cron.New(),
		logger: logger.With("component", "cron"),
	}
}

// Register schedules one cron trigger. The connectors, when present,
// contribute channel context and members to the declared input; the
// poster, when present, receives the agent result.
func (c *Cron) Register(agentName string, trig config.TriggerConfig, runner Runner, conns []integrations.Connector, poster ResultPoster) error {
	if trig.Schedule == "" {
		return fmt.Errorf("cron: agent %q trigger missing schedule", agentName)
	}

	_, err := c.cron.AddFunc(trig.Schedule, func() {
		c.fire(agentName, trig, runner, conns, poster)
	})
	if err != nil {
		return fmt.Errorf("cron: agent %q schedule %q: %w", agentName, trig.Schedule, err)
	}
	c.logger.Info("cron trigger registered", "agent", agentName, "schedule", trig.Schedule)
	return nil
}

func (c *Cron) fire(agentName string, trig config.TriggerConfig, runner Runner, conns []integrations.Connector, poster ResultPoster) {
	ctx := context.Background()
	if c.onFire != nil {
		c.onFire(agentName)
	}

	input := mergeInput(trig.Input, nil)
	if len(conns) > 0 {
		var recent []string
		var members []string
		seen := make(map[string]bool)
		for _, conn := range conns {
			recent = append(recent, conn.RecentMessages()...)
			for _, member := range conn.ChannelMembers() {
				if !seen[member] {
					seen[member] = true
					members = append(members, member)
				}
			}
		}
		input["channel_context"] = recent
		input["channel_members"] = members
	}

	result, err := runner.Invoke(ctx, agentOptions(input, CronSessionID(agentName)))
	if err != nil {
		c.logger.Warn("cron fire failed", "agent", agentName, "error", err)
		return
	}

	if poster != nil {
		if text, ok := result.Output.(string); ok && text != "" {
			if err := poster.Send(ctx, text); err != nil {
				c.logger.Warn("cron result post failed", "agent", agentName, "error", err)
			}
		}
	}
}

// Start begins firing scheduled triggers.
func (c *Cron) Start() { c.cron.Start() }

// Stop halts scheduling and waits for running fires.
func (c *Cron) Stop() {
	<-c.cron.Stop().Done()
}
