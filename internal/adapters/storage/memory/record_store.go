package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/calliope-ai/calliope/internal/domain"
)

// RecordStore is an in-memory implementation of domain.RecordStore for
// local mode and tests. State is copied on the way in and out so callers
// cannot alias store internals.
type RecordStore struct {
	mu     sync.RWMutex
	agents map[domain.AgentID]*agentRecords
}

type agentRecords struct {
	sessions  map[domain.SessionID]*domain.Session
	order     []domain.SessionID // creation order
	messages  map[domain.SessionID][]*domain.Message
	nextMsgID int64
}

func NewRecordStore() *RecordStore {
	return &RecordStore{agents: make(map[domain.AgentID]*agentRecords)}
}

func (s *RecordStore) forAgent(agent domain.AgentID) *agentRecords {
	a, ok := s.agents[agent]
	if !ok {
		a = &agentRecords{
			sessions: make(map[domain.SessionID]*domain.Session),
			messages: make(map[domain.SessionID][]*domain.Message),
		}
		s.agents[agent] = a
	}
	return a
}

// lookup is the read-side accessor; it never mutates the map.
func (s *RecordStore) lookup(agent domain.AgentID) *agentRecords {
	return s.agents[agent]
}

func (s *RecordStore) InsertMessage(_ context.Context, agent domain.AgentID, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.forAgent(agent)
	if _, ok := a.sessions[msg.SessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	a.nextMsgID++
	msg.ID = a.nextMsgID
	cp := *msg
	a.messages[msg.SessionID] = append(a.messages[msg.SessionID], &cp)
	return nil
}

func (s *RecordStore) CreateSession(_ context.Context, agent domain.AgentID, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.forAgent(agent)
	cp := copySession(session)
	a.sessions[session.ID] = cp
	a.order = append(a.order, session.ID)
	return nil
}

func (s *RecordStore) UpdateSession(_ context.Context, agent domain.AgentID, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.forAgent(agent)
	if _, ok := a.sessions[session.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	a.sessions[session.ID] = copySession(session)
	return nil
}

func (s *RecordStore) GetSession(_ context.Context, agent domain.AgentID, id domain.SessionID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := s.lookup(agent)
	if a == nil {
		return nil, domain.ErrSessionNotFound
	}
	sess, ok := a.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return copySession(sess), nil
}

func (s *RecordStore) OpenSession(_ context.Context, agent domain.AgentID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := s.lookup(agent)
	if a == nil {
		return nil, domain.ErrSessionNotFound
	}
	for i := len(a.order) - 1; i >= 0; i-- {
		if sess, ok := a.sessions[a.order[i]]; ok && sess.Open() {
			return copySession(sess), nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

func (s *RecordStore) MessagesBySession(_ context.Context, agent domain.AgentID, id domain.SessionID) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := s.lookup(agent)
	if a == nil {
		return nil, nil
	}
	msgs := a.messages[id]
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *RecordStore) RecentSessions(_ context.Context, agent domain.AgentID, limit int) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := s.lookup(agent)
	if a == nil {
		return nil, nil
	}
	var out []*domain.Session
	for _, id := range a.order {
		if sess, ok := a.sessions[id]; ok {
			out = append(out, copySession(sess))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RecordStore) SessionsEndedBefore(_ context.Context, agent domain.AgentID, cutoff time.Time) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := s.lookup(agent)
	if a == nil {
		return nil, nil
	}
	var out []*domain.Session
	for _, id := range a.order {
		sess, ok := a.sessions[id]
		if !ok || sess.EndedAt == nil {
			continue
		}
		if sess.EndedAt.Before(cutoff) {
			out = append(out, copySession(sess))
		}
	}
	return out, nil
}

func (s *RecordStore) DeleteSession(_ context.Context, agent domain.AgentID, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.forAgent(agent)
	delete(a.sessions, id)
	delete(a.messages, id)
	for i, sid := range a.order {
		if sid == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *RecordStore) Stats(_ context.Context, agent domain.AgentID) (domain.AgentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := s.lookup(agent)
	if a == nil {
		return domain.AgentStats{}, nil
	}
	stats := domain.AgentStats{Sessions: len(a.sessions)}
	for _, msgs := range a.messages {
		stats.Messages += len(msgs)
	}
	return stats, nil
}

func copySession(sess *domain.Session) *domain.Session {
	cp := *sess
	if sess.EndedAt != nil {
		t := *sess.EndedAt
		cp.EndedAt = &t
	}
	if sess.Summary != nil {
		v := *sess.Summary
		cp.Summary = &v
	}
	cp.Topics = append([]string(nil), sess.Topics...)
	return &cp
}
