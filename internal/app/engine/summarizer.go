package engine

import (
	"context"
	"strings"

	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/observability"
)

const summaryInstruction = "Summarize this conversation in 1-2 sentences, " +
	"focusing on what was discussed and any important details:\n\n"

// closeSessionLocked marks the session ended, with a best-effort digest.
// The summary is optional; closing is not. A completion failure closes
// the session with a null summary instead of leaving it open. Callers
// hold the engine mutex.
func (e *Engine) closeSessionLocked(ctx context.Context, id domain.SessionID) {
	log := observability.LoggerFromContext(ctx).With("agent_id", e.agent, "session_id", id)

	sess, err := e.deps.Records.GetSession(ctx, e.agent, id)
	if err != nil {
		log.Error("closing session: load failed", "error", err)
		return
	}
	if !sess.Open() {
		return
	}

	msgs, err := e.deps.Records.MessagesBySession(ctx, e.agent, id)
	if err != nil {
		log.Error("closing session: loading messages failed", "error", err)
		msgs = nil
	}

	if len(msgs) >= 2 {
		if digest := e.summarize(ctx, msgs); digest != "" {
			sess.Summary = &digest
		}
	}

	now := e.deps.Clock()
	sess.EndedAt = &now
	if err := e.deps.Records.UpdateSession(ctx, e.agent, sess); err != nil {
		log.Error("closing session: update failed", "error", err)
		return
	}
	observability.SessionsClosedTotal.Inc()
	log.Info("session closed", "has_summary", sess.Summary != nil)
}

func (e *Engine) summarize(ctx context.Context, msgs []*domain.Message) string {
	var transcript strings.Builder
	for i, m := range msgs {
		if i > 0 {
			transcript.WriteByte('\n')
		}
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
	}

	turns := []domain.Turn{{Role: domain.RoleUser, Content: summaryInstruction + transcript.String()}}
	digest, err := e.deps.Completion.Complete(ctx, "", turns)
	if err != nil {
		observability.CompletionFailuresTotal.Inc()
		observability.LoggerFromContext(ctx).Warn("summary generation failed, closing without one", "agent_id", e.agent, "error", err)
		return ""
	}
	return strings.TrimSpace(digest)
}
