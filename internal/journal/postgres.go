package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists turn records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turn_ledger (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			failed_stage TEXT NOT NULL DEFAULT '',
			audio_in_bytes INTEGER NOT NULL DEFAULT 0,
			audio_out_bytes INTEGER NOT NULL DEFAULT 0,
			transcribe_ms BIGINT NOT NULL DEFAULT 0,
			generate_ms BIGINT NOT NULL DEFAULT 0,
			synthesize_ms BIGINT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turn_ledger_session_finished ON turn_ledger (session_id, finished_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.FinishedAt
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO turn_ledger (id, session_id, turn_id, outcome, failed_stage,
			audio_in_bytes, audio_out_bytes, transcribe_ms, generate_ms, synthesize_ms,
			started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID,
		rec.SessionID,
		rec.TurnID,
		rec.Outcome,
		rec.FailedStage,
		rec.AudioInBytes,
		rec.AudioOutBytes,
		rec.TranscribeMS,
		rec.GenerateMS,
		rec.SynthesizeMS,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	limit = normalizeLimit(limit)

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, turn_id, outcome, failed_stage, audio_in_bytes, audio_out_bytes,
			transcribe_ms, generate_ms, synthesize_ms, started_at, finished_at
		 FROM turn_ledger WHERE session_id=$1 ORDER BY finished_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turn records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.SessionID, &r.TurnID, &r.Outcome, &r.FailedStage,
			&r.AudioInBytes, &r.AudioOutBytes, &r.TranscribeMS, &r.GenerateMS, &r.SynthesizeMS,
			&r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan turn record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
