package domain

import "time"

// AgentID addresses one unit of conversation state: a companion persona,
// optionally scoped to a single end user (e.g. "clara:58212941").
type AgentID string

type SessionID string

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type Timestamp = time.Time
