package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned by record stores when no session
	// matches a lookup.
	ErrSessionNotFound = errors.New("session not found")

	// ErrObjectNotFound is returned by blob stores for missing keys.
	ErrObjectNotFound = errors.New("object not found")
)

// Turn is one conversation turn handed to the completion service.
type Turn struct {
	Role    Role
	Content string
}

// CompletionClient is the opaque text-completion service. Failures are
// expected (network, quota) and callers degrade rather than retry.
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt string, turns []Turn) (string, error)
}

// Transport delivers agent-initiated text to the end user. Best effort:
// callers log errors and never let them block session bookkeeping.
type Transport interface {
	Deliver(ctx context.Context, agent AgentID, text string) error
}

// AgentStats backs the debug endpoints.
type AgentStats struct {
	Messages int `json:"messages"`
	Sessions int `json:"sessions"`
}

// RecordStore is the authoritative, append-only store for messages and
// sessions. Messages are never mutated after insert; sessions are updated
// in place while open and deleted only by the archiver.
type RecordStore interface {
	// InsertMessage persists msg and assigns its monotonic ID.
	InsertMessage(ctx context.Context, agent AgentID, msg *Message) error
	CreateSession(ctx context.Context, agent AgentID, session *Session) error
	UpdateSession(ctx context.Context, agent AgentID, session *Session) error
	GetSession(ctx context.Context, agent AgentID, id SessionID) (*Session, error)
	// OpenSession returns the session with EndedAt == nil, or
	// ErrSessionNotFound if the agent has no open session.
	OpenSession(ctx context.Context, agent AgentID) (*Session, error)
	// MessagesBySession returns all messages of a session, ordered by
	// CreatedAt then ID.
	MessagesBySession(ctx context.Context, agent AgentID, id SessionID) ([]*Message, error)
	// RecentSessions returns up to limit sessions, newest started first.
	RecentSessions(ctx context.Context, agent AgentID, limit int) ([]*Session, error)
	// SessionsEndedBefore returns closed sessions with EndedAt < cutoff.
	SessionsEndedBefore(ctx context.Context, agent AgentID, cutoff time.Time) ([]*Session, error)
	// DeleteSession removes the session row and all its messages.
	DeleteSession(ctx context.Context, agent AgentID, id SessionID) error
	Stats(ctx context.Context, agent AgentID) (AgentStats, error)
}

// BlobStore is key/value object storage for hot-memory snapshots and
// dated archive batches.
type BlobStore interface {
	PutObject(ctx context.Context, key string, data []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}
