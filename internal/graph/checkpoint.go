package graph

import (
	"context"
	"errors"
	"time"

	"github.com/ecoverify-ai/ecoverify/internal/state"
)

// ErrNoCheckpoint is returned when a thread has no persisted history.
var ErrNoCheckpoint = errors.New("graph: no checkpoint for thread")

// Checkpoint is one persisted step boundary: the merged state, the node
// scheduled next, and any pending interrupt payload. A checkpoint is
// sufficient to resume the thread in a fresh process.
type Checkpoint struct {
	ThreadID   string               `json:"thread_id"`
	StepIndex  int                  `json:"step_index"`
	State      state.ExecutionState `json:"state"`
	Next       string               `json:"next"`
	Interrupt  map[string]any       `json:"interrupt,omitempty"`
	Dispatches int                  `json:"dispatches"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Checkpointer persists per-thread checkpoint history. Implementations
// must be safe for concurrent use across distinct thread ids; the
// runtime serializes access within a thread.
type Checkpointer interface {
	// Put appends a checkpoint for (cp.ThreadID, cp.StepIndex).
	Put(ctx context.Context, cp Checkpoint) error
	// Latest returns the highest-index checkpoint for the thread, or
	// ErrNoCheckpoint.
	Latest(ctx context.Context, threadID string) (Checkpoint, error)
	// History returns all checkpoints for the thread in step order.
	History(ctx context.Context, threadID string) ([]Checkpoint, error)
	// Close releases any underlying resources.
	Close() error
}
