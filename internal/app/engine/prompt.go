package engine

import (
	"context"
	"strings"
	"time"

	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/observability"
)

// Fallback persona when no personality file is configured. Real
// deployments replace this wholesale with a character's prompt.
const defaultSystemPrompt = `You are "Calliope", a warm, curious AI companion.

Your role:
- You keep an ongoing, friendly conversation with one person over days and weeks.
- You remember what was discussed before and bring it up naturally when it helps.
- You are NOT a therapist, doctor, or emergency service and you do NOT give medical diagnoses.

General style guidelines:
- Answer in the SAME LANGUAGE as the user.
- Be concise: a few short sentences, the way people actually text.
- Use simple, everyday language, not technical jargon.
- Ask at most one follow-up question per reply.

Boundaries and safety:
- If the user mentions self-harm or harming others, encourage them to seek immediate help from local emergency services or a trusted person.
- Never give instructions on how to self-harm or harm others.
`

// contextualPreamble appends the current-context block to the system
// prompt: local time, the previous session's digest when the current
// exchange is just starting, and a short list of older session digests.
func (e *Engine) contextualPreamble(ctx context.Context, hot *domain.HotMemory) string {
	now := e.deps.Clock()
	local := now.UTC().Add(time.Duration(e.cfg.UTCOffset) * time.Hour)

	var b strings.Builder
	b.WriteString("\n## CURRENT CONTEXT\nIt's ")
	b.WriteString(local.Format("Monday 3:04 PM"))
	b.WriteString(".\n")

	summaries := e.pastSummaries(ctx, hot.CurrentSessionID, 5)
	if len(summaries) == 0 {
		return b.String()
	}

	// A session is "young" while it holds at most the opening exchange.
	if len(hot.RecentMessages) <= 2 {
		b.WriteString("\nYour last conversation:\n")
		b.WriteString(summaries[0].digest)
		b.WriteString("\n")
	}

	b.WriteString("\n## PAST SESSIONS\n")
	for _, s := range summaries {
		b.WriteString("- ")
		b.WriteString(s.startedAt.Format(time.RFC3339))
		b.WriteString(": ")
		b.WriteString(s.digest)
		b.WriteString("\n")
	}
	return b.String()
}

type pastSummary struct {
	startedAt time.Time
	digest    string
}

// pastSummaries lists digests of closed sessions other than the current
// one, newest first.
func (e *Engine) pastSummaries(ctx context.Context, current domain.SessionID, limit int) []pastSummary {
	sessions, err := e.deps.Records.RecentSessions(ctx, e.agent, limit+1)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("listing sessions for context", "agent_id", e.agent, "error", err)
		return nil
	}

	var out []pastSummary
	for _, s := range sessions {
		if s.ID == current || s.Summary == nil || *s.Summary == "" {
			continue
		}
		out = append(out, pastSummary{startedAt: s.StartedAt, digest: *s.Summary})
		if len(out) == limit {
			break
		}
	}
	return out
}
