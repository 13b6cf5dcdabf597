// Package engine implements the conversation-memory and session-lifecycle
// core. One Engine is the single logical actor for one agent identity: all
// operations against that identity's state run under its mutex, so
// session-boundary detection and hot-memory read-modify-write never
// interleave. Cross-agent engines are fully independent.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/observability"
)

// Config holds the conversation policy. The values are tunables with no
// derived semantics: gap-based session boundary, best-effort digest,
// bounded cache, timed cold-storage sweep.
type Config struct {
	SessionGap      time.Duration // inactivity gap that opens a new session
	CacheLimit      int           // max messages kept in hot memory
	OutreachAfter   time.Duration // idle time before outreach becomes eligible
	OutreachBefore  time.Duration // idle time after which outreach stops
	Retention       time.Duration // closed sessions older than this are archived
	ActiveHourStart int           // local-time band in which outreach may run
	ActiveHourEnd   int
	MaintenanceHour int // local hour that triggers the archiver
	UTCOffset       int // hours added to UTC for the agent's local time
	SystemPrompt    string
	FillerReply     string // used when the completion service produces nothing
}

func (c Config) withDefaults() Config {
	if c.SessionGap <= 0 {
		c.SessionGap = 2 * time.Hour
	}
	if c.CacheLimit <= 0 {
		c.CacheLimit = 20
	}
	if c.OutreachAfter <= 0 {
		c.OutreachAfter = 24 * time.Hour
	}
	if c.OutreachBefore <= 0 {
		c.OutreachBefore = 48 * time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.ActiveHourEnd == 0 {
		c.ActiveHourStart = 9
		c.ActiveHourEnd = 21
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.FillerReply == "" {
		c.FillerReply = "..."
	}
	return c
}

// Deps are the engine's collaborators. Clock is optional and defaults to
// time.Now; tests inject a fake.
type Deps struct {
	Completion domain.CompletionClient
	Records    domain.RecordStore
	Blobs      domain.BlobStore
	Transport  domain.Transport
	Clock      func() time.Time
}

// Engine is the per-identity actor. Do not share one Engine across agent
// identities; use a Registry to route to the right one.
type Engine struct {
	agent domain.AgentID
	cfg   Config
	deps  Deps

	mu  sync.Mutex
	hot *domain.HotMemory // working copy; nil until loaded or rebuilt
}

func New(agent domain.AgentID, cfg Config, deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Engine{
		agent: agent,
		cfg:   cfg.withDefaults(),
		deps:  deps,
	}
}

// HandleIncoming processes one inbound user message: segments sessions by
// arrival gap, persists the message, generates and persists the reply,
// refreshes the hot-memory snapshot and dispatches the reply through the
// transport. A completion hiccup degrades to a filler reply; session
// bookkeeping is never skipped because of one.
func (e *Engine) HandleIncoming(ctx context.Context, content string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := observability.LoggerFromContext(ctx).With("agent_id", e.agent)

	now := e.deps.Clock()
	hot, err := e.hotMemory(ctx)
	if err != nil {
		return "", err
	}

	if e.needsNewSession(hot, now) {
		if hot.CurrentSessionID != "" {
			// Closing must complete (possibly without a summary)
			// before a new session opens.
			e.closeSessionLocked(ctx, hot.CurrentSessionID)
		}
		sess := &domain.Session{ID: e.newSessionID(now), StartedAt: now}
		if err := e.deps.Records.CreateSession(ctx, e.agent, sess); err != nil {
			return "", err
		}
		hot.Reset(sess.ID, now)
		observability.SessionsOpenedTotal.Inc()
		log.Info("session opened", "session_id", sess.ID)
	}

	userMsg := &domain.Message{
		SessionID: hot.CurrentSessionID,
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: now,
	}
	if err := e.deps.Records.InsertMessage(ctx, e.agent, userMsg); err != nil {
		return "", err
	}
	hot.Append(cached(userMsg), e.cfg.CacheLimit)
	hot.LastMessageAt = &now
	e.bumpMessageCount(ctx, hot.CurrentSessionID)
	observability.MessagesTotal.WithLabelValues(string(domain.RoleUser)).Inc()

	reply := e.generateReply(ctx, hot)

	replyAt := e.deps.Clock()
	agentMsg := &domain.Message{
		SessionID: hot.CurrentSessionID,
		Role:      domain.RoleAgent,
		Content:   reply,
		CreatedAt: replyAt,
	}
	if err := e.deps.Records.InsertMessage(ctx, e.agent, agentMsg); err != nil {
		return "", err
	}
	hot.Append(cached(agentMsg), e.cfg.CacheLimit)
	e.bumpMessageCount(ctx, hot.CurrentSessionID)
	observability.MessagesTotal.WithLabelValues(string(domain.RoleAgent)).Inc()

	e.saveHot(ctx, hot)
	e.deliver(ctx, reply)

	return reply, nil
}

// Shutdown closes the currently open session, if any. Used on process
// stop so no session is left open across restarts on purpose.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hot, err := e.hotMemory(ctx)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("shutdown: loading hot memory", "agent_id", e.agent, "error", err)
		return
	}
	if hot.CurrentSessionID == "" {
		return
	}
	e.closeSessionLocked(ctx, hot.CurrentSessionID)
	hot.CurrentSessionID = ""
	hot.SessionStart = nil
	hot.RecentMessages = nil
	e.saveHot(ctx, hot)
}

// Snapshot returns a copy of the current hot memory, loading or
// rebuilding it if necessary. Debug use.
func (e *Engine) Snapshot(ctx context.Context) (domain.HotMemory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hot, err := e.hotMemory(ctx)
	if err != nil {
		return domain.HotMemory{}, err
	}
	cp := *hot
	cp.RecentMessages = append([]domain.CachedMessage(nil), hot.RecentMessages...)
	return cp, nil
}

func (e *Engine) needsNewSession(hot *domain.HotMemory, now time.Time) bool {
	if hot.LastMessageAt == nil || hot.CurrentSessionID == "" {
		return true
	}
	return now.Sub(*hot.LastMessageAt) > e.cfg.SessionGap
}

func (e *Engine) generateReply(ctx context.Context, hot *domain.HotMemory) string {
	log := observability.LoggerFromContext(ctx).With("agent_id", e.agent)

	system := e.cfg.SystemPrompt + e.contextualPreamble(ctx, hot)
	turns := make([]domain.Turn, 0, len(hot.RecentMessages))
	for _, m := range hot.RecentMessages {
		turns = append(turns, domain.Turn{Role: m.Role, Content: m.Content})
	}

	text, err := e.deps.Completion.Complete(ctx, system, turns)
	if err != nil || strings.TrimSpace(text) == "" {
		observability.CompletionFailuresTotal.Inc()
		log.Warn("completion produced no usable text, using filler", "error", err)
		return e.cfg.FillerReply
	}
	return text
}

// bumpMessageCount increments the open session's counter. Failures are
// logged; the count is denormalized bookkeeping, not ground truth.
func (e *Engine) bumpMessageCount(ctx context.Context, id domain.SessionID) {
	sess, err := e.deps.Records.GetSession(ctx, e.agent, id)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("loading session for count", "session_id", id, "error", err)
		return
	}
	sess.MessageCount++
	if err := e.deps.Records.UpdateSession(ctx, e.agent, sess); err != nil {
		observability.LoggerFromContext(ctx).Error("updating message count", "session_id", id, "error", err)
	}
}

func (e *Engine) deliver(ctx context.Context, text string) {
	if e.deps.Transport == nil {
		return
	}
	// Fire and forget: transport errors never block bookkeeping.
	if err := e.deps.Transport.Deliver(ctx, e.agent, text); err != nil {
		observability.LoggerFromContext(ctx).Error("transport delivery failed", "agent_id", e.agent, "error", err)
	}
}

// hotMemory returns the working snapshot, loading it from the blob store
// on first use. A snapshot that references a session absent (or already
// closed) in the record store is discarded and rebuilt from durable
// history; durable history is never deleted to repair the cache.
func (e *Engine) hotMemory(ctx context.Context) (*domain.HotMemory, error) {
	if e.hot != nil {
		return e.hot, nil
	}

	log := observability.LoggerFromContext(ctx).With("agent_id", e.agent)

	if data, err := e.deps.Blobs.GetObject(ctx, e.hotKey()); err == nil {
		var hot domain.HotMemory
		if jsonErr := json.Unmarshal(data, &hot); jsonErr == nil {
			if e.consistent(ctx, &hot) {
				e.hot = &hot
				return e.hot, nil
			}
			log.Warn("hot memory inconsistent with record store, rebuilding")
		} else {
			log.Warn("hot memory snapshot corrupt, rebuilding", "error", jsonErr)
		}
	}

	hot, err := e.rebuildHot(ctx)
	if err != nil {
		return nil, err
	}
	e.hot = hot
	return e.hot, nil
}

func (e *Engine) consistent(ctx context.Context, hot *domain.HotMemory) bool {
	if hot.CurrentSessionID == "" {
		return true
	}
	sess, err := e.deps.Records.GetSession(ctx, e.agent, hot.CurrentSessionID)
	if err != nil {
		return false
	}
	return sess.Open()
}

// rebuildHot derives a fresh snapshot from the record store: the open
// session's most recent messages, or an empty snapshot if none is open.
func (e *Engine) rebuildHot(ctx context.Context) (*domain.HotMemory, error) {
	sess, err := e.deps.Records.OpenSession(ctx, e.agent)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return &domain.HotMemory{}, nil
		}
		return nil, err
	}

	msgs, err := e.deps.Records.MessagesBySession(ctx, e.agent, sess.ID)
	if err != nil {
		return nil, err
	}

	hot := &domain.HotMemory{}
	start := sess.StartedAt
	hot.CurrentSessionID = sess.ID
	hot.SessionStart = &start
	for _, m := range msgs {
		hot.Append(cached(m), e.cfg.CacheLimit)
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1].CreatedAt
		hot.LastMessageAt = &last
	}
	return hot, nil
}

// saveHot persists the snapshot. The in-memory copy stays authoritative
// for this actor, so a failed write only costs a rebuild after restart.
func (e *Engine) saveHot(ctx context.Context, hot *domain.HotMemory) {
	data, err := json.Marshal(hot)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("marshaling hot memory", "agent_id", e.agent, "error", err)
		return
	}
	if err := e.deps.Blobs.PutObject(ctx, e.hotKey(), data); err != nil {
		observability.LoggerFromContext(ctx).Error("persisting hot memory", "agent_id", e.agent, "error", err)
	}
}

func (e *Engine) hotKey() string {
	return "agents/" + string(e.agent) + "/hot-memory"
}

func (e *Engine) archiveKey(day time.Time) string {
	return "agents/" + string(e.agent) + "/archives/" + day.UTC().Format("2006-01-02")
}

// newSessionID derives an opaque, time-ordered id. ULIDs sort by creation
// time, which keeps RecentSessions ordering cheap across backends.
func (e *Engine) newSessionID(now time.Time) domain.SessionID {
	id, err := ulid.New(ulid.Timestamp(now.UTC()), rand.Reader)
	if err != nil {
		// rand.Reader failing is effectively fatal elsewhere; fall
		// back to a timestamp id rather than panic here.
		return domain.SessionID("session_" + now.UTC().Format("20060102150405.000000000"))
	}
	return domain.SessionID(id.String())
}

func (e *Engine) localHour(now time.Time) int {
	return ((now.UTC().Hour() + e.cfg.UTCOffset) % 24 + 24) % 24
}

func cached(m *domain.Message) domain.CachedMessage {
	return domain.CachedMessage{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt}
}
