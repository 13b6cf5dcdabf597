package engine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calliope-ai/calliope/internal/adapters/storage/memory"
	"github.com/calliope-ai/calliope/internal/app/engine"
	"github.com/calliope-ai/calliope/internal/domain"
)

const testAgent = domain.AgentID("clara:1001")

// baseTime is a Monday noon UTC, inside the default active-hours band.
var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type completionCall struct {
	System string
	Turns  []domain.Turn
}

// fakeLLM answers from a scripted queue and falls back to a canned reply.
// Set Err to make every call fail.
type fakeLLM struct {
	mu    sync.Mutex
	queue []string
	Err   error
	Calls []completionCall
}

func (f *fakeLLM) Script(replies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, replies...)
}

func (f *fakeLLM) Complete(_ context.Context, system string, turns []domain.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, completionCall{System: system, Turns: turns})
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.queue) > 0 {
		reply := f.queue[0]
		f.queue = f.queue[1:]
		return reply, nil
	}
	return "canned reply", nil
}

type fakeTransport struct {
	mu   sync.Mutex
	Sent []string
	Err  error
}

func (f *fakeTransport) Deliver(_ context.Context, _ domain.AgentID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Sent = append(f.Sent, text)
	return nil
}

func (f *fakeTransport) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

type fixture struct {
	clock   *fakeClock
	llm     *fakeLLM
	records *memory.RecordStore
	blobs   *memory.BlobStore
	sent    *fakeTransport
	eng     *engine.Engine
}

func newFixture(cfg engine.Config) *fixture {
	f := &fixture{
		clock:   newFakeClock(baseTime),
		llm:     &fakeLLM{},
		records: memory.NewRecordStore(),
		blobs:   memory.NewBlobStore(),
		sent:    &fakeTransport{},
	}
	f.eng = engine.New(testAgent, cfg, engine.Deps{
		Completion: f.llm,
		Records:    f.records,
		Blobs:      f.blobs,
		Transport:  f.sent,
		Clock:      f.clock.Now,
	})
	return f
}

// seedSingleMessageSession plants an open session holding exactly one
// message, with a matching hot-memory snapshot, and returns its id. Used
// to exercise the below-two-messages close path, which HandleIncoming
// alone cannot produce (the reply always lands alongside the inbound).
func seedSingleMessageSession(ctx context.Context, t *testing.T, f *fixture) domain.SessionID {
	t.Helper()

	now := f.clock.Now()
	sess := &domain.Session{ID: "seeded-session", StartedAt: now, MessageCount: 1}
	require.NoError(t, f.records.CreateSession(ctx, testAgent, sess))
	msg := &domain.Message{SessionID: sess.ID, Role: domain.RoleUser, Content: "hi?", CreatedAt: now}
	require.NoError(t, f.records.InsertMessage(ctx, testAgent, msg))

	hot := domain.HotMemory{
		RecentMessages:   []domain.CachedMessage{{Role: msg.Role, Content: msg.Content, Timestamp: now}},
		CurrentSessionID: sess.ID,
		SessionStart:     &now,
		LastMessageAt:    &now,
	}
	data, err := json.Marshal(hot)
	require.NoError(t, err)
	require.NoError(t, f.blobs.PutObject(ctx, "agents/"+string(testAgent)+"/hot-memory", data))
	return sess.ID
}

// openSessions counts sessions with EndedAt == nil.
func (f *fixture) openSessions(ctx context.Context) int {
	sessions, err := f.records.RecentSessions(ctx, testAgent, 100)
	if err != nil {
		panic(err)
	}
	open := 0
	for _, s := range sessions {
		if s.Open() {
			open++
		}
	}
	return open
}
