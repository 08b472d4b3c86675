package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresArchive stores archived turns in PostgreSQL.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

func NewPostgresArchive(ctx context.Context, databaseURL string) (*PostgresArchive, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresArchive{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_created ON conversation_turns (created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate conversation_turns: %w", err)
		}
	}
	return nil
}

func (a *PostgresArchive) SaveTurn(ctx context.Context, turn ArchivedTurn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := a.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, session_id, role, kind, content, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		turn.ID, turn.SessionID, string(turn.Role), turn.Kind, turn.Content, turn.PIIRedacted, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (a *PostgresArchive) Recent(ctx context.Context, limit int) ([]ArchivedTurn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.pool.Query(ctx,
		`SELECT id, session_id, role, kind, content, pii_redacted, created_at
		 FROM conversation_turns ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	out := make([]ArchivedTurn, 0, limit)
	for rows.Next() {
		var (
			t    ArchivedTurn
			role string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Kind, &t.Content, &t.PIIRedacted, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = Role(role)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	// newest-first from the query; callers expect chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (a *PostgresArchive) Close() error {
	a.pool.Close()
	return nil
}
