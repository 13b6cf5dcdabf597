package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calliope-ai/calliope/internal/app/engine"
	"github.com/calliope-ai/calliope/internal/domain"
)

// maintenanceTime is 3 AM UTC, the default maintenance hour with no
// offset, and outside the active-hours band so no outreach interferes.
var maintenanceTime = time.Date(2025, 4, 15, 3, 0, 0, 0, time.UTC)

func seedClosedSession(ctx context.Context, t *testing.T, f *fixture, id domain.SessionID, endedAgo time.Duration) {
	t.Helper()

	ended := f.clock.Now().Add(-endedAgo)
	started := ended.Add(-time.Hour)
	summary := "an old conversation"
	sess := &domain.Session{
		ID:           id,
		StartedAt:    started,
		EndedAt:      &ended,
		Summary:      &summary,
		MessageCount: 2,
	}
	require.NoError(t, f.records.CreateSession(ctx, testAgent, sess))
	for _, m := range []domain.Message{
		{SessionID: id, Role: domain.RoleUser, Content: "hello from the past", CreatedAt: started},
		{SessionID: id, Role: domain.RoleAgent, Content: "hello!", CreatedAt: started.Add(time.Second)},
	} {
		msg := m
		require.NoError(t, f.records.InsertMessage(ctx, testAgent, &msg))
	}
}

func archiveKeys(f *fixture) []string {
	var out []string
	for _, k := range f.blobs.Keys() {
		if strings.Contains(k, "/archives/") {
			out = append(out, k)
		}
	}
	return out
}

func TestCleanupArchivesAndPrunesOldSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(engine.Config{MaintenanceHour: 3})
	f.clock.Set(maintenanceTime)

	seedClosedSession(ctx, t, f, "ancient", 31*24*time.Hour)
	seedClosedSession(ctx, t, f, "recent", 24*time.Hour)

	f.eng.Tick(ctx)

	// The old session left the record store; the recent one did not.
	_, err := f.records.GetSession(ctx, testAgent, "ancient")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	msgs, err := f.records.MessagesBySession(ctx, testAgent, "ancient")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = f.records.GetSession(ctx, testAgent, "recent")
	assert.NoError(t, err)

	// Exactly one batch, keyed by the run day, holding the transcript.
	keys := archiveKeys(f)
	require.Len(t, keys, 1)
	assert.Equal(t, "agents/"+string(testAgent)+"/archives/2025-04-15", keys[0])

	data, err := f.blobs.GetObject(ctx, keys[0])
	require.NoError(t, err)
	var batch struct {
		Sessions []struct {
			Session  *domain.Session   `json:"session"`
			Messages []*domain.Message `json:"messages"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(data, &batch))
	require.Len(t, batch.Sessions, 1)
	assert.Equal(t, domain.SessionID("ancient"), batch.Sessions[0].Session.ID)
	assert.Len(t, batch.Sessions[0].Messages, 2)
}

func TestCleanupSkipsDeletionWhenColdWriteFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(engine.Config{MaintenanceHour: 3})
	f.clock.Set(maintenanceTime)
	seedClosedSession(ctx, t, f, "ancient", 31*24*time.Hour)

	eng := engine.New(testAgent, engine.Config{MaintenanceHour: 3}, engine.Deps{
		Completion: f.llm,
		Records:    f.records,
		Blobs:      &failingBlobs{BlobStore: f.blobs},
		Transport:  f.sent,
		Clock:      f.clock.Now,
	})
	eng.Tick(ctx)

	// Nothing was deleted: archival happens before pruning or not at all.
	_, err := f.records.GetSession(ctx, testAgent, "ancient")
	assert.NoError(t, err)
}

func TestCleanupRerunAfterPartialFailureReusesBatchKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(engine.Config{MaintenanceHour: 3})
	f.clock.Set(maintenanceTime)
	seedClosedSession(ctx, t, f, "ancient", 31*24*time.Hour)

	flaky := &flakyRecords{RecordStore: f.records, failDeletes: 1}
	eng := engine.New(testAgent, engine.Config{MaintenanceHour: 3}, engine.Deps{
		Completion: f.llm,
		Records:    flaky,
		Blobs:      f.blobs,
		Transport:  f.sent,
		Clock:      f.clock.Now,
	})

	// First run: batch written, delete fails, session survives.
	eng.Tick(ctx)
	_, err := f.records.GetSession(ctx, testAgent, "ancient")
	require.NoError(t, err)
	require.Len(t, archiveKeys(f), 1)

	// Re-run later the same day: the same batch object is overwritten,
	// so the once-archived session is never duplicated across batches,
	// and the deletion finally lands.
	f.clock.Advance(10 * time.Minute)
	eng.Tick(ctx)

	_, err = f.records.GetSession(ctx, testAgent, "ancient")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Len(t, archiveKeys(f), 1)
}

type failingBlobs struct {
	domain.BlobStore
}

func (b *failingBlobs) PutObject(context.Context, string, []byte) error {
	return errors.New("cold storage unavailable")
}

type flakyRecords struct {
	domain.RecordStore
	failDeletes int
}

func (s *flakyRecords) DeleteSession(ctx context.Context, agent domain.AgentID, id domain.SessionID) error {
	if s.failDeletes > 0 {
		s.failDeletes--
		return errors.New("disk error")
	}
	return s.RecordStore.DeleteSession(ctx, agent, id)
}
