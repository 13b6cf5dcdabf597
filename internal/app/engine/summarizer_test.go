package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calliope-ai/calliope/internal/app/engine"
)

func TestSessionBelowTwoMessagesGetsNoDigestCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(engine.Config{})

	// Seed a session that only ever got one message on record.
	sessID := seedSingleMessageSession(ctx, t, f)

	f.clock.Advance(3 * time.Hour)
	_, err := f.eng.HandleIncoming(ctx, "hello")
	require.NoError(t, err)

	closed, err := f.records.GetSession(ctx, testAgent, sessID)
	require.NoError(t, err)
	require.False(t, closed.Open())
	assert.Nil(t, closed.Summary, "single-message session must close without a digest")

	// No summarization call was made for it: the only completion call
	// is the new exchange's reply.
	require.Len(t, f.llm.Calls, 1)
	assert.Contains(t, f.llm.Calls[0].Turns[len(f.llm.Calls[0].Turns)-1].Content, "hello")
}

func TestSummaryFailureStillClosesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(engine.Config{})

	_, err := f.eng.HandleIncoming(ctx, "first")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.eng.HandleIncoming(ctx, "second")
	require.NoError(t, err)

	// Completion goes down; the gap still forces the close.
	f.llm.Err = errors.New("service unavailable")
	f.clock.Advance(3 * time.Hour)
	_, err = f.eng.HandleIncoming(ctx, "anyone?")
	require.NoError(t, err)

	sessions, err := f.records.RecentSessions(ctx, testAgent, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	previous := sessions[1]
	require.False(t, previous.Open(), "summary failure must not leave the session open")
	assert.Nil(t, previous.Summary)
	assert.Equal(t, 1, f.openSessions(ctx))
}

func TestSummaryRequestCarriesTranscript(t *testing.T) {
	ctx := context.Background()
	f := newFixture(engine.Config{})

	f.llm.Script("reply one", "reply two", "digest")
	_, err := f.eng.HandleIncoming(ctx, "the play was great")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.eng.HandleIncoming(ctx, "we should go again")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	f.llm.Script("welcome back")
	_, err = f.eng.HandleIncoming(ctx, "hi")
	require.NoError(t, err)

	// Third call is the digest request: plain user turn, no persona.
	summaryCall := f.llm.Calls[2]
	assert.Empty(t, summaryCall.System)
	require.Len(t, summaryCall.Turns, 1)
	assert.Contains(t, summaryCall.Turns[0].Content, "user: the play was great")
	assert.Contains(t, summaryCall.Turns[0].Content, "agent: reply one")
	assert.Contains(t, summaryCall.Turns[0].Content, "user: we should go again")
}
