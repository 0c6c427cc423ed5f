// Package triggers dispatches time- and request-based agent invocations
// with deterministic session ids.
package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/maestro/internal/agent"
)

// Runner is the executor surface triggers invoke. *agent.Executor
// satisfies it.
type Runner interface {
	Invoke(ctx context.Context, opts agent.Options) (*agent.Result, error)
}

// CronSessionID is stable across fires, so the cron conversation is one
// continuous session.
func CronSessionID(agentName string) string {
	return fmt.Sprintf("trigger-%s-cron", agentName)
}

// WebhookSessionID is minted per request.
func WebhookSessionID(agentName string, now time.Time) string {
	return fmt.Sprintf("trigger-%s-webhook-%d", agentName, now.UnixMilli())
}

func agentOptions(input map[string]any, sessionID string) agent.Options {
	return agent.Options{Input: input, SessionID: sessionID}
}

// mergeInput overlays src over a copy of base.
func mergeInput(base, src map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(src))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range src {
		merged[k] = v
	}
	return merged
}
