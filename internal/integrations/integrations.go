// Package integrations binds agents to long-lived external conversation
// surfaces. Each connector receives external events and dispatches them
// to its agent through a single-flight queue.
package integrations

import (
	"context"
	"fmt"
)

// Handler is the agent-side callback a connector dispatches to. Body is
// the command text, sender identifies the external author, and meta
// carries connector context merged into the agent input.
type Handler func(ctx context.Context, body, sender string, meta map[string]any) (string, error)

// Connector is a long-lived binding between one agent and one external
// surface.
type Connector interface {
	// Start begins serving events until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop tears the connector down and waits for in-flight dispatches.
	Stop()

	// RecentMessages returns the rolling log of surface traffic,
	// oldest first, for context injection.
	RecentMessages() []string

	// ChannelMembers returns the current member names, for member-list
	// injection into agent input variables.
	ChannelMembers() []string
}

// ChatSessionID is the stable session id for a channel connector.
func ChatSessionID(agent, channel string) string {
	return fmt.Sprintf("integration-%s-%s", agent, channel)
}

// EmailSessionID is the per-sender session id for an email connector.
func EmailSessionID(agent, senderEmail string) string {
	return fmt.Sprintf("integration-%s-email-%s", agent, senderEmail)
}
