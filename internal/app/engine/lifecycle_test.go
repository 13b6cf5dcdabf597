package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calliope-ai/calliope/internal/app/engine"
	"github.com/calliope-ai/calliope/internal/domain"
)

// Walks one identity through the whole lifecycle: a short conversation,
// a gap that closes it with a digest, an idle-window check-in, and a
// retention sweep a month later.
func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(engine.Config{})

	// Two messages half an hour apart share a session.
	f.llm.Script("sounds fun!", "enjoy the show")
	_, err := f.eng.HandleIncoming(ctx, "got theater tickets")
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	_, err = f.eng.HandleIncoming(ctx, "front row, even")
	require.NoError(t, err)

	sessions, err := f.records.RecentSessions(ctx, testAgent, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 4, sessions[0].MessageCount)
	hot, err := f.eng.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, hot.RecentMessages, 4)

	// A message past the gap closes the first session with a digest and
	// opens a second one.
	f.clock.Advance(3 * time.Hour)
	f.llm.Script("they were excited about theater tickets", "welcome back!")
	_, err = f.eng.HandleIncoming(ctx, "hi again")
	require.NoError(t, err)

	sessions, err = f.records.RecentSessions(ctx, testAgent, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	first, second := sessions[1], sessions[0]
	require.False(t, first.Open())
	require.NotNil(t, first.Summary)
	assert.Equal(t, "they were excited about theater tickets", *first.Summary)
	assert.True(t, second.Open())
	assert.Equal(t, 2, second.MessageCount)

	// 25h of silence: the next tick sends one check-in, grounded in the
	// digest, and stamps the idle clock.
	lastContact := f.clock.Now()
	f.clock.Advance(25 * time.Hour)
	delivered := f.sent.Count()
	f.llm.Script("how was the show?")
	f.eng.Tick(ctx)

	require.Equal(t, delivered+1, f.sent.Count())
	assert.Equal(t, "how was the show?", f.sent.Sent[len(f.sent.Sent)-1])
	outreach := f.llm.Calls[len(f.llm.Calls)-1]
	assert.Contains(t, outreach.System, "they were excited about theater tickets")
	hot, err = f.eng.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, lastContact.Add(25*time.Hour).Unix(), hot.LastMessageAt.Unix())

	// A month on, the maintenance tick archives the closed session and
	// leaves the open one alone.
	f.clock.Set(time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC))
	f.eng.Tick(ctx)

	_, err = f.records.GetSession(ctx, testAgent, first.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.records.GetSession(ctx, testAgent, second.ID)
	assert.NoError(t, err)
	keys := archiveKeys(f)
	require.Len(t, keys, 1)
	assert.Equal(t, "agents/"+string(testAgent)+"/archives/2025-04-15", keys[0])
}
