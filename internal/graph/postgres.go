package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCheckpointer persists checkpoints in Postgres for durable
// multi-process deployments.
type PostgresCheckpointer struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id  TEXT        NOT NULL,
	step_index INTEGER     NOT NULL,
	snapshot   JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (thread_id, step_index)
)`

// NewPostgresCheckpointer connects to dsn and ensures the schema.
func NewPostgresCheckpointer(ctx context.Context, dsn string) (*PostgresCheckpointer, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("graph: connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("graph: init postgres schema: %w", err)
	}
	return &PostgresCheckpointer{pool: pool}, nil
}

func (p *PostgresCheckpointer) Put(ctx context.Context, cp Checkpoint) error {
	snapshot, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("graph: marshal checkpoint: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO checkpoints (thread_id, step_index, snapshot, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (thread_id, step_index) DO UPDATE SET snapshot = EXCLUDED.snapshot`,
		cp.ThreadID, cp.StepIndex, snapshot, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("graph: put checkpoint: %w", err)
	}
	return nil
}

func (p *PostgresCheckpointer) Latest(ctx context.Context, threadID string) (Checkpoint, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT snapshot FROM checkpoints WHERE thread_id = $1 ORDER BY step_index DESC LIMIT 1`, threadID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Checkpoint{}, ErrNoCheckpoint
		}
		return Checkpoint{}, fmt.Errorf("graph: load checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("graph: decode checkpoint: %w", err)
	}
	return cp, nil
}

func (p *PostgresCheckpointer) History(ctx context.Context, threadID string) ([]Checkpoint, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT snapshot FROM checkpoints WHERE thread_id = $1 ORDER BY step_index ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("graph: load history: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("graph: scan history: %w", err)
		}
		var cp Checkpoint
		if err := json.Unmarshal(raw, &cp); err != nil {
			return nil, fmt.Errorf("graph: decode history: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoCheckpoint
	}
	return out, nil
}

func (p *PostgresCheckpointer) Close() error {
	p.pool.Close()
	return nil
}
