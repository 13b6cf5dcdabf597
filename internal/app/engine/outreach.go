package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/observability"
)

// Tick is the recurring entry point for agent-initiated work. An hourly
// cadence is enough for both decisions here: proactive outreach during
// the active-hours band, and the archive sweep at the maintenance hour.
// Both are evaluated against the agent's configured local time.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.deps.Clock()
	hour := e.localHour(now)

	if hour >= e.cfg.ActiveHourStart && hour <= e.cfg.ActiveHourEnd {
		e.maybeReachOut(ctx, now)
	}
	if hour == e.cfg.MaintenanceHour {
		e.cleanupLocked(ctx, now)
	}
}

// maybeReachOut sends at most one proactive message per idle window.
// Advancing last_message_at on a successful send is what suppresses a
// re-fire on the next tick inside the same window.
func (e *Engine) maybeReachOut(ctx context.Context, now time.Time) {
	log := observability.LoggerFromContext(ctx).With("agent_id", e.agent)

	hot, err := e.hotMemory(ctx)
	if err != nil {
		log.Error("outreach: loading hot memory", "error", err)
		return
	}
	if hot.LastMessageAt == nil {
		// Never contacted; the user makes first contact.
		return
	}

	idle := now.Sub(*hot.LastMessageAt)
	if idle < e.cfg.OutreachAfter || idle >= e.cfg.OutreachBefore {
		return
	}

	prompt := "Send a brief, natural check-in message to see how they're doing."
	if summary := e.latestSummary(ctx); summary != "" {
		prompt = fmt.Sprintf("Based on your last conversation about: %q, send a brief, natural check-in message.", summary)
	}

	system := e.cfg.SystemPrompt + "\n\n" + prompt
	turns := []domain.Turn{{Role: domain.RoleUser, Content: "[SYSTEM: Generate proactive outreach]"}}
	text, err := e.deps.Completion.Complete(ctx, system, turns)
	if err != nil || strings.TrimSpace(text) == "" {
		// Skip this tick; the window check will pass again next hour.
		observability.CompletionFailuresTotal.Inc()
		log.Warn("outreach generation failed, skipping tick", "error", err)
		return
	}

	e.deliver(ctx, text)
	hot.LastMessageAt = &now
	e.saveHot(ctx, hot)
	observability.OutreachSentTotal.Inc()
	log.Info("outreach sent", "idle_hours", int(idle.Hours()))
}

// latestSummary returns the newest closed session's digest, or "".
func (e *Engine) latestSummary(ctx context.Context) string {
	sessions, err := e.deps.Records.RecentSessions(ctx, e.agent, 10)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("listing sessions for outreach", "agent_id", e.agent, "error", err)
		return ""
	}
	for _, s := range sessions {
		if s.Summary != nil && *s.Summary != "" {
			return *s.Summary
		}
	}
	return ""
}
