package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/observability"
)

// archiveBatch is the cold-storage shape: one object per agent per run
// day, holding every session swept in that run with its full transcript.
type archiveBatch struct {
	Agent      domain.AgentID    `json:"agent"`
	ArchivedAt time.Time         `json:"archived_at"`
	Sessions   []archivedSession `json:"sessions"`
}

type archivedSession struct {
	Session  *domain.Session   `json:"session"`
	Messages []*domain.Message `json:"messages"`
}

// cleanupLocked moves sessions closed before the retention cutoff to cold
// storage and then prunes them from the record store. The batch key is
// dated to the run, so a re-run after a partial failure overwrites the
// same object rather than duplicating history: at-least-once archival,
// eventual deletion. Callers hold the engine mutex.
func (e *Engine) cleanupLocked(ctx context.Context, now time.Time) {
	log := observability.LoggerFromContext(ctx).With("agent_id", e.agent)

	cutoff := now.Add(-e.cfg.Retention)
	old, err := e.deps.Records.SessionsEndedBefore(ctx, e.agent, cutoff)
	if err != nil {
		log.Error("cleanup: retention query failed", "error", err)
		return
	}
	if len(old) == 0 {
		return
	}

	batch := archiveBatch{Agent: e.agent, ArchivedAt: now}
	for _, sess := range old {
		msgs, err := e.deps.Records.MessagesBySession(ctx, e.agent, sess.ID)
		if err != nil {
			log.Error("cleanup: loading messages failed", "session_id", sess.ID, "error", err)
			return
		}
		batch.Sessions = append(batch.Sessions, archivedSession{Session: sess, Messages: msgs})
	}

	data, err := json.Marshal(batch)
	if err != nil {
		log.Error("cleanup: encoding batch failed", "error", err)
		return
	}
	if err := e.deps.Blobs.PutObject(ctx, e.archiveKey(now), data); err != nil {
		// Nothing is deleted unless the cold write landed.
		log.Error("cleanup: cold-storage write failed", "error", err)
		return
	}
	observability.ArchiveBatchesTotal.Inc()

	deleted := 0
	for _, sess := range old {
		if err := e.deps.Records.DeleteSession(ctx, e.agent, sess.ID); err != nil {
			log.Error("cleanup: delete failed, will retry next run", "session_id", sess.ID, "error", err)
			continue
		}
		deleted++
	}
	log.Info("cleanup complete", "archived", len(old), "deleted", deleted)
}
