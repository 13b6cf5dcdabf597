// Package postgres is the record-store backend for shared deployments
// where many agent processes point at one database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calliope-ai/calliope/internal/domain"
)

type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database and ensures the schema.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			agent_id      TEXT NOT NULL,
			started_at    TIMESTAMPTZ NOT NULL,
			ended_at      TIMESTAMPTZ,
			summary       TEXT,
			message_count INTEGER NOT NULL DEFAULT 0,
			topics        JSONB NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         BIGSERIAL PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(agent_id, session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(agent_id, ended_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, agent domain.AgentID, msg *domain.Message) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (agent_id, session_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		string(agent), string(msg.SessionID), string(msg.Role), msg.Content, msg.CreatedAt.UTC(),
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("postgres InsertMessage: %w", err)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, agent domain.AgentID, session *domain.Session) error {
	topics, err := json.Marshal(session.Topics)
	if err != nil {
		return fmt.Errorf("postgres CreateSession topics: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, agent_id, started_at, ended_at, summary, message_count, topics)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(session.ID), string(agent), session.StartedAt.UTC(),
		session.EndedAt, session.Summary, session.MessageCount, topics)
	if err != nil {
		return fmt.Errorf("postgres CreateSession: %w", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, agent domain.AgentID, session *domain.Session) error {
	topics, err := json.Marshal(session.Topics)
	if err != nil {
		return fmt.Errorf("postgres UpdateSession topics: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET ended_at = $1, summary = $2, message_count = $3, topics = $4
		WHERE id = $5 AND agent_id = $6`,
		session.EndedAt, session.Summary, session.MessageCount, topics,
		string(session.ID), string(agent))
	if err != nil {
		return fmt.Errorf("postgres UpdateSession: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

const sessionColumns = `id, started_at, ended_at, summary, message_count, topics`

func (s *Store) GetSession(ctx context.Context, agent domain.AgentID, id domain.SessionID) (*domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND agent_id = $2`,
		string(id), string(agent))
	return scanSession(row)
}

func (s *Store) OpenSession(ctx context.Context, agent domain.AgentID) (*domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE agent_id = $1 AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`,
		string(agent))
	return scanSession(row)
}

func (s *Store) MessagesBySession(ctx context.Context, agent domain.AgentID, id domain.SessionID) ([]*domain.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, created_at FROM messages
		WHERE agent_id = $1 AND session_id = $2
		ORDER BY created_at, id`,
		string(agent), string(id))
	if err != nil {
		return nil, fmt.Errorf("postgres MessagesBySession: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var (
			m         domain.Message
			sessionID string
			role      string
		)
		if err := rows.Scan(&m.ID, &sessionID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres MessagesBySession scan: %w", err)
		}
		m.SessionID = domain.SessionID(sessionID)
		m.Role = domain.Role(role)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) RecentSessions(ctx context.Context, agent domain.AgentID, limit int) ([]*domain.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE agent_id = $1
		ORDER BY started_at DESC LIMIT $2`,
		string(agent), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres RecentSessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) SessionsEndedBefore(ctx context.Context, agent domain.AgentID, cutoff time.Time) ([]*domain.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE agent_id = $1 AND ended_at IS NOT NULL AND ended_at < $2
		ORDER BY ended_at`,
		string(agent), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres SessionsEndedBefore: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) DeleteSession(ctx context.Context, agent domain.AgentID, id domain.SessionID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres DeleteSession begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE agent_id = $1 AND session_id = $2`,
		string(agent), string(id)); err != nil {
		return fmt.Errorf("postgres DeleteSession messages: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE agent_id = $1 AND id = $2`,
		string(agent), string(id)); err != nil {
		return fmt.Errorf("postgres DeleteSession session: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) Stats(ctx context.Context, agent domain.AgentID) (domain.AgentStats, error) {
	var stats domain.AgentStats
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE agent_id = $1`,
		string(agent)).Scan(&stats.Messages); err != nil {
		return stats, fmt.Errorf("postgres Stats messages: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE agent_id = $1`,
		string(agent)).Scan(&stats.Sessions); err != nil {
		return stats, fmt.Errorf("postgres Stats sessions: %w", err)
	}
	return stats, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		sess   domain.Session
		id     string
		topics []byte
	)
	err := row.Scan(&id, &sess.StartedAt, &sess.EndedAt, &sess.Summary, &sess.MessageCount, &topics)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres scan session: %w", err)
	}
	sess.ID = domain.SessionID(id)
	if err := json.Unmarshal(topics, &sess.Topics); err != nil {
		return nil, fmt.Errorf("postgres scan topics: %w", err)
	}
	return &sess, nil
}

func scanSessions(rows pgx.Rows) ([]*domain.Session, error) {
	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
