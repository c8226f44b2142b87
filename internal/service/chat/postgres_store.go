package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhouzirui/z-recall/backend/internal/model/chat"
)

// PostgresStore persists sessions and cached pairs in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// schemaStatements creates the tables. Queries are indexed by digest since
// btree entries are limited to roughly 2.7 KB.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		seq BIGSERIAL PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL REFERENCES chat_sessions (session_id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		user_query TEXT NOT NULL,
		llm_resp TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`DROP INDEX IF EXISTS idx_chat_messages_session_query;`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_query_md5 ON chat_messages (session_id, md5(user_query));`,
}

const firstAnsweredQuery = `SELECT message_id, session_id, user_id, user_query, llm_resp, created_at
	 FROM chat_messages
	 WHERE session_id=$1 AND md5(user_query)=md5($2) AND user_query=$2
	   AND llm_resp IS NOT NULL AND llm_resp <> ''
	 ORDER BY seq ASC LIMIT 1`

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, session chat.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (session_id, user_id, session_name, created_at, last_updated)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (session_id) DO NOTHING`,
		session.ID, session.UserID, session.Name, session.CreatedAt, session.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var session chat.Session
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, user_id, session_name, created_at, last_updated
		 FROM chat_sessions WHERE session_id=$1`,
		sessionID,
	).Scan(&session.ID, &session.UserID, &session.Name, &session.CreatedAt, &session.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("query session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE chat_sessions SET last_updated=$2 WHERE session_id=$1`, sessionID, at)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, message chat.CachedMessage) error {
	var resp *string
	if message.LLMResp != "" {
		resp = &message.LLMResp
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (message_id, session_id, user_id, user_query, llm_resp, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		message.ID, message.SessionID, message.UserID, message.UserQuery, resp, message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (s *PostgresStore) FirstAnswered(ctx context.Context, sessionID, query string) (chat.CachedMessage, bool, error) {
	var msg chat.CachedMessage
	err := s.pool.QueryRow(ctx, firstAnsweredQuery, sessionID, query).Scan(&msg.ID, &msg.SessionID, &msg.UserID, &msg.UserQuery, &msg.LLMResp, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.CachedMessage{}, false, nil
	}
	if err != nil {
		return chat.CachedMessage{}, false, fmt.Errorf("query cached message: %w", err)
	}
	return msg, true, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]chat.CachedMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, session_id, user_id, user_query, COALESCE(llm_resp, ''), created_at
		 FROM chat_messages WHERE session_id=$1 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.CachedMessage, 0, 16)
	for rows.Next() {
		var m chat.CachedMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.UserQuery, &m.LLMResp, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
