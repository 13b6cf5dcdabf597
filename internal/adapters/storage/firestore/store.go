package firestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/calliope-ai/calliope/internal/domain"
)

// Store is a document-backed record store: agents/{agent}/sessions/{id}
// with a messages subcollection per session. Message ids are insertion
// nanos; one engine serializes all inserts for an agent, so they stay
// monotonic.
type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store for the given project.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) sessionsCol(agent domain.AgentID) *firestore.CollectionRef {
	return s.client.Collection("agents").Doc(string(agent)).Collection("sessions")
}

func (s *Store) sessionDocRef(agent domain.AgentID, id domain.SessionID) *firestore.DocumentRef {
	return s.sessionsCol(agent).Doc(string(id))
}

func (s *Store) messagesCol(agent domain.AgentID, id domain.SessionID) *firestore.CollectionRef {
	return s.sessionDocRef(agent, id).Collection("messages")
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type sessionDoc struct {
	StartedAt    time.Time  `firestore:"started_at"`
	EndedAt      *time.Time `firestore:"ended_at"`
	Summary      *string    `firestore:"summary"`
	MessageCount int        `firestore:"message_count"`
	Topics       string     `firestore:"topics"` // JSON array
}

type messageDoc struct {
	ID        int64     `firestore:"id"`
	SessionID string    `firestore:"session_id"`
	Role      string    `firestore:"role"`
	Content   string    `firestore:"content"`
	CreatedAt time.Time `firestore:"created_at"`
}

// ─────────────────────────────────────────
// RecordStore implementation
// ─────────────────────────────────────────

func (s *Store) InsertMessage(ctx context.Context, agent domain.AgentID, msg *domain.Message) error {
	msg.ID = msg.CreatedAt.UTC().UnixNano()

	doc := messageDoc{
		ID:        msg.ID,
		SessionID: string(msg.SessionID),
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.UTC(),
	}
	_, err := s.messagesCol(agent, msg.SessionID).Doc(fmt.Sprintf("%020d", msg.ID)).Create(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore InsertMessage: %w", err)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, agent domain.AgentID, session *domain.Session) error {
	doc, err := toSessionDoc(session)
	if err != nil {
		return err
	}
	if _, err := s.sessionDocRef(agent, session.ID).Create(ctx, doc); err != nil {
		return fmt.Errorf("firestore CreateSession: %w", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, agent domain.AgentID, session *domain.Session) error {
	doc, err := toSessionDoc(session)
	if err != nil {
		return err
	}
	if _, err := s.sessionDocRef(agent, session.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore UpdateSession: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, agent domain.AgentID, id domain.SessionID) (*domain.Session, error) {
	snap, err := s.sessionDocRef(agent, id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("firestore GetSession: %w", err)
	}
	return fromSessionSnap(snap)
}

func (s *Store) OpenSession(ctx context.Context, agent domain.AgentID) (*domain.Session, error) {
	// The engine guarantees at most one open session per agent, so no
	// ordering is needed here.
	it := s.sessionsCol(agent).Where("ended_at", "==", nil).Limit(1).Documents(ctx)
	defer it.Stop()

	snap, err := it.Next()
	if err == iterator.Done {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore OpenSession: %w", err)
	}
	return fromSessionSnap(snap)
}

func (s *Store) MessagesBySession(ctx context.Context, agent domain.AgentID, id domain.SessionID) ([]*domain.Message, error) {
	it := s.messagesCol(agent, id).OrderBy("created_at", firestore.Asc).OrderBy("id", firestore.Asc).Documents(ctx)
	defer it.Stop()

	var out []*domain.Message
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore MessagesBySession: %w", err)
		}
		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore MessagesBySession decode: %w", err)
		}
		out = append(out, &domain.Message{
			ID:        doc.ID,
			SessionID: domain.SessionID(doc.SessionID),
			Role:      domain.Role(doc.Role),
			Content:   doc.Content,
			CreatedAt: doc.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) RecentSessions(ctx context.Context, agent domain.AgentID, limit int) ([]*domain.Session, error) {
	it := s.sessionsCol(agent).OrderBy("started_at", firestore.Desc).Limit(limit).Documents(ctx)
	return collectSessions(it, "RecentSessions")
}

func (s *Store) SessionsEndedBefore(ctx context.Context, agent domain.AgentID, cutoff time.Time) ([]*domain.Session, error) {
	// Firestore range filters are type-bracketed: documents with a null
	// ended_at never match the < comparison.
	it := s.sessionsCol(agent).Where("ended_at", "<", cutoff.UTC()).Documents(ctx)
	return collectSessions(it, "SessionsEndedBefore")
}

func (s *Store) DeleteSession(ctx context.Context, agent domain.AgentID, id domain.SessionID) error {
	it := s.messagesCol(agent, id).Documents(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("firestore DeleteSession messages: %w", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("firestore DeleteSession message: %w", err)
		}
	}
	if _, err := s.sessionDocRef(agent, id).Delete(ctx); err != nil {
		return fmt.Errorf("firestore DeleteSession: %w", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context, agent domain.AgentID) (domain.AgentStats, error) {
	it := s.sessionsCol(agent).Documents(ctx)
	defer it.Stop()

	var stats domain.AgentStats
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("firestore Stats: %w", err)
		}
		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return stats, fmt.Errorf("firestore Stats decode: %w", err)
		}
		stats.Sessions++
		stats.Messages += doc.MessageCount
	}
	return stats, nil
}

// ─────────────────────────────────────────
// Conversions
// ─────────────────────────────────────────

func toSessionDoc(session *domain.Session) (sessionDoc, error) {
	topics, err := json.Marshal(session.Topics)
	if err != nil {
		return sessionDoc{}, fmt.Errorf("firestore encode topics: %w", err)
	}
	doc := sessionDoc{
		StartedAt:    session.StartedAt.UTC(),
		MessageCount: session.MessageCount,
		Topics:       string(topics),
		Summary:      session.Summary,
	}
	if session.EndedAt != nil {
		t := session.EndedAt.UTC()
		doc.EndedAt = &t
	}
	return doc, nil
}

func fromSessionSnap(snap *firestore.DocumentSnapshot) (*domain.Session, error) {
	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore decode session: %w", err)
	}
	sess := &domain.Session{
		ID:           domain.SessionID(snap.Ref.ID),
		StartedAt:    doc.StartedAt,
		EndedAt:      doc.EndedAt,
		Summary:      doc.Summary,
		MessageCount: doc.MessageCount,
	}
	if doc.Topics != "" {
		if err := json.Unmarshal([]byte(doc.Topics), &sess.Topics); err != nil {
			return nil, fmt.Errorf("firestore decode topics: %w", err)
		}
	}
	return sess, nil
}

func collectSessions(it *firestore.DocumentIterator, op string) ([]*domain.Session, error) {
	defer it.Stop()

	var out []*domain.Session
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore %s: %w", op, err)
		}
		sess, err := fromSessionSnap(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}
