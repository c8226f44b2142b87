package thread

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhouzirui/z-recall/backend/internal/model/chat"
)

// PostgresStore persists thread messages in PostgreSQL.
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

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS thread_messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_thread_messages_thread_seq ON thread_messages (thread_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, threadID string) ([]chat.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, ErrThreadIDRequired
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, role, content, created_at
		 FROM thread_messages WHERE thread_id=$1 ORDER BY seq ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("query thread: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, 16)
	for rows.Next() {
		var m chat.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		m.Role = chat.Role(role)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread rows: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) Append(ctx context.Context, threadID string, messages ...chat.Message) error {
	if strings.TrimSpace(threadID) == "" {
		return ErrThreadIDRequired
	}
	if len(messages) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, msg := range messages {
		msg = prepare(threadID, msg)
		batch.Queue(
			`INSERT INTO thread_messages (id, thread_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
			msg.ID, msg.ThreadID, string(msg.Role), msg.Content, msg.CreatedAt,
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append thread messages: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
