// Package transport delivers agent text to the outside world. Delivery is
// best-effort everywhere: the engine logs failures and moves on.
package transport

import (
	"context"

	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/observability"
)

// LogTransport writes outbound messages to the log. Local mode and tests.
type LogTransport struct{}

func NewLogTransport() *LogTransport {
	return &LogTransport{}
}

func (t *LogTransport) Deliver(ctx context.Context, agent domain.AgentID, text string) error {
	observability.LoggerFromContext(ctx).Info("outbound message", "agent_id", agent, "text", text)
	return nil
}
