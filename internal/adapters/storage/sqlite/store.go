// Package sqlite is the default record-store backend: a single embedded
// database shared by every agent identity, keyed by agent_id.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/calliope-ai/calliope/internal/domain"
)

type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at path and ensures the
// schema. Use ":memory:" for throwaway databases in tests.
func NewStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// modernc sqlite serializes writers; a single connection avoids
	// table-lock errors and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			agent_id      TEXT NOT NULL,
			started_at    TIMESTAMP NOT NULL,
			ended_at      TIMESTAMP,
			summary       TEXT,
			message_count INTEGER NOT NULL DEFAULT 0,
			topics        TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id   TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(agent_id, session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(agent_id, ended_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, agent domain.AgentID, msg *domain.Message) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (agent_id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(agent), string(msg.SessionID), string(msg.Role), msg.Content, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("sqlite InsertMessage: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite InsertMessage id: %w", err)
	}
	msg.ID = id
	return nil
}

func (s *Store) CreateSession(ctx context.Context, agent domain.AgentID, session *domain.Session) error {
	topics, err := json.Marshal(session.Topics)
	if err != nil {
		return fmt.Errorf("sqlite CreateSession topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, agent_id, started_at, ended_at, summary, message_count, topics)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(session.ID), string(agent), session.StartedAt.UTC(),
		nullTime(session.EndedAt), nullString(session.Summary), session.MessageCount, string(topics))
	if err != nil {
		return fmt.Errorf("sqlite CreateSession: %w", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, agent domain.AgentID, session *domain.Session) error {
	topics, err := json.Marshal(session.Topics)
	if err != nil {
		return fmt.Errorf("sqlite UpdateSession topics: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET ended_at = ?, summary = ?, message_count = ?, topics = ?
		WHERE id = ? AND agent_id = ?`,
		nullTime(session.EndedAt), nullString(session.Summary), session.MessageCount, string(topics),
		string(session.ID), string(agent))
	if err != nil {
		return fmt.Errorf("sqlite UpdateSession: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite UpdateSession rows: %w", err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

const sessionColumns = `id, started_at, ended_at, summary, message_count, topics`

func (s *Store) GetSession(ctx context.Context, agent domain.AgentID, id domain.SessionID) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND agent_id = ?`,
		string(id), string(agent))
	return scanSession(row)
}

func (s *Store) OpenSession(ctx context.Context, agent domain.AgentID) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE agent_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`,
		string(agent))
	return scanSession(row)
}

func (s *Store) MessagesBySession(ctx context.Context, agent domain.AgentID, id domain.SessionID) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at FROM messages
		WHERE agent_id = ? AND session_id = ?
		ORDER BY created_at, id`,
		string(agent), string(id))
	if err != nil {
		return nil, fmt.Errorf("sqlite MessagesBySession: %w", err)
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
			return nil, fmt.Errorf("sqlite MessagesBySession scan: %w", err)
		}
		m.SessionID = domain.SessionID(sessionID)
		m.Role = domain.Role(role)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) RecentSessions(ctx context.Context, agent domain.AgentID, limit int) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE agent_id = ?
		ORDER BY started_at DESC LIMIT ?`,
		string(agent), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite RecentSessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) SessionsEndedBefore(ctx context.Context, agent domain.AgentID, cutoff time.Time) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE agent_id = ? AND ended_at IS NOT NULL AND ended_at < ?
		ORDER BY ended_at`,
		string(agent), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("sqlite SessionsEndedBefore: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) DeleteSession(ctx context.Context, agent domain.AgentID, id domain.SessionID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite DeleteSession begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE agent_id = ? AND session_id = ?`,
		string(agent), string(id)); err != nil {
		return fmt.Errorf("sqlite DeleteSession messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE agent_id = ? AND id = ?`,
		string(agent), string(id)); err != nil {
		return fmt.Errorf("sqlite DeleteSession session: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Stats(ctx context.Context, agent domain.AgentID) (domain.AgentStats, error) {
	var stats domain.AgentStats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE agent_id = ?`,
		string(agent)).Scan(&stats.Messages); err != nil {
		return stats, fmt.Errorf("sqlite Stats messages: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE agent_id = ?`,
		string(agent)).Scan(&stats.Sessions); err != nil {
		return stats, fmt.Errorf("sqlite Stats sessions: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		sess    domain.Session
		id      string
		endedAt sql.NullTime
		summary sql.NullString
		topics  string
	)
	err := row.Scan(&id, &sess.StartedAt, &endedAt, &summary, &sess.MessageCount, &topics)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite scan session: %w", err)
	}
	sess.ID = domain.SessionID(id)
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	if summary.Valid {
		v := summary.String
		sess.Summary = &v
	}
	if err := json.Unmarshal([]byte(topics), &sess.Topics); err != nil {
		return nil, fmt.Errorf("sqlite scan topics: %w", err)
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*domain.Session, error) {
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

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
