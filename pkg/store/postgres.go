package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversations in PostgreSQL. Turns are stored
// as a JSONB document per conversation; sessions are write-once, so
// normalized turn rows buy nothing here.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and ensures the schema.
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
		`CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			turns JSONB NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_started ON conversations (started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, rec ConversationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now().UTC()
	}

	turns, err := json.Marshal(rec.Turns)
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (id, turns, model, language, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID,
		turns,
		rec.Model,
		rec.Language,
		rec.StartedAt,
		rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// Recent implements Store.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]ConversationRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, turns, model, language, started_at, ended_at
		 FROM conversations ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	records := make([]ConversationRecord, 0, limit)
	for rows.Next() {
		var rec ConversationRecord
		var turns []byte
		if err := rows.Scan(&rec.ID, &turns, &rec.Model, &rec.Language, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		if err := json.Unmarshal(turns, &rec.Turns); err != nil {
			return nil, fmt.Errorf("unmarshal turns: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return records, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
