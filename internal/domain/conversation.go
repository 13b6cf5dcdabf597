package domain

// Message is one immutable fact in an agent's timeline. The record store
// assigns ID on insert; ordering is by CreatedAt with ID as tiebreak.
type Message struct {
	ID        int64
	SessionID SessionID
	Role      Role
	Content   string
	CreatedAt Timestamp
}

// Session is a contiguous run of messages bounded by inactivity gaps.
// At most one session per agent is open (EndedAt == nil) at any time.
type Session struct {
	ID           SessionID
	StartedAt    Timestamp
	EndedAt      *Timestamp
	Summary      *string
	MessageCount int
	Topics       []string // placeholder, not populated yet
}

// Open reports whether the session has not been closed.
func (s *Session) Open() bool {
	return s.EndedAt == nil
}

// CachedMessage is the denormalized message shape kept in HotMemory.
type CachedMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp Timestamp `json:"timestamp"`
}

// HotMemory is the per-agent snapshot of recent conversation state. It is
// a derived projection of the record store: bounded, disposable, and
// rebuilt from durable history whenever it is lost or inconsistent.
type HotMemory struct {
	RecentMessages   []CachedMessage `json:"recent_messages"`
	CurrentSessionID SessionID       `json:"current_session_id,omitempty"`
	SessionStart     *Timestamp      `json:"session_start,omitempty"`
	LastMessageAt    *Timestamp      `json:"last_message_at,omitempty"`
}

// Append adds a message and trims the buffer to the most recent limit
// entries, oldest first.
func (h *HotMemory) Append(msg CachedMessage, limit int) {
	h.RecentMessages = append(h.RecentMessages, msg)
	if limit > 0 && len(h.RecentMessages) > limit {
		h.RecentMessages = h.RecentMessages[len(h.RecentMessages)-limit:]
	}
}

// Reset clears the snapshot to the state of a brand new session.
func (h *HotMemory) Reset(sessionID SessionID, start Timestamp) {
	h.CurrentSessionID = sessionID
	h.SessionStart = &start
	h.RecentMessages = nil
}
