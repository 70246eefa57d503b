package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCheckpointer persists checkpoints in a local SQLite database,
// giving durable single-node resume across process restarts.
type SQLiteCheckpointer struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id  TEXT    NOT NULL,
	step_index INTEGER NOT NULL,
	snapshot   TEXT    NOT NULL,
	created_at TEXT    NOT NULL,
	PRIMARY KEY (thread_id, step_index)
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints (thread_id, step_index DESC);
`

// NewSQLiteCheckpointer opens (creating if needed) the database at path.
func NewSQLiteCheckpointer(path string) (*SQLiteCheckpointer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("graph: open sqlite: %w", err)
	}
	// modernc sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent threads.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("graph: init sqlite schema: %w", err)
	}
	return &SQLiteCheckpointer{db: db}, nil
}

func (s *SQLiteCheckpointer) Put(ctx context.Context, cp Checkpoint) error {
	snapshot, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("graph: marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (thread_id, step_index, snapshot, created_at) VALUES (?, ?, ?, ?)`,
		cp.ThreadID, cp.StepIndex, string(snapshot), cp.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("graph: put checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteCheckpointer) Latest(ctx context.Context, threadID string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM checkpoints WHERE thread_id = ? ORDER BY step_index DESC LIMIT 1`, threadID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Checkpoint{}, ErrNoCheckpoint
		}
		return Checkpoint{}, fmt.Errorf("graph: load checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("graph: decode checkpoint: %w", err)
	}
	return cp, nil
}

func (s *SQLiteCheckpointer) History(ctx context.Context, threadID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot FROM checkpoints WHERE thread_id = ? ORDER BY step_index ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("graph: load history: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("graph: scan history: %w", err)
		}
		var cp Checkpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
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

func (s *SQLiteCheckpointer) Close() error { return s.db.Close() }
