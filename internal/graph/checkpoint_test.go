package graph

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoverify-ai/ecoverify/internal/state"
)

func sampleCheckpoint(threadID string, stepIndex int) Checkpoint {
	st := state.New()
	st.Messages = append(st.Messages, state.Message{Role: "assistant", Content: "scan complete"})
	st.CurrentPhase = state.PhaseDetectorComplete
	return Checkpoint{
		ThreadID:   threadID,
		StepIndex:  stepIndex,
		State:      st,
		Next:       "jurist",
		Dispatches: stepIndex,
		CreatedAt:  time.Date(2026, 2, 11, 14, 0, 0, 0, time.UTC),
	}
}

// runCheckpointerSuite exercises the shared Checkpointer contract.
func runCheckpointerSuite(t *testing.T, cp Checkpointer) {
	ctx := context.Background()

	_, err := cp.Latest(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoCheckpoint)
	_, err = cp.History(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	require.NoError(t, cp.Put(ctx, sampleCheckpoint("thread-a", 1)))
	require.NoError(t, cp.Put(ctx, sampleCheckpoint("thread-a", 2)))
	require.NoError(t, cp.Put(ctx, sampleCheckpoint("thread-b", 1)))

	latest, err := cp.Latest(ctx, "thread-a")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.StepIndex)
	assert.Equal(t, "jurist", latest.Next)
	require.Len(t, latest.State.Messages, 1)
	assert.Equal(t, "scan complete", latest.State.Messages[0].Content)
	assert.Equal(t, state.PhaseDetectorComplete, latest.State.CurrentPhase)

	history, err := cp.History(ctx, "thread-a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].StepIndex)
	assert.Equal(t, 2, history[1].StepIndex)

	// Threads stay isolated.
	latestB, err := cp.Latest(ctx, "thread-b")
	require.NoError(t, err)
	assert.Equal(t, 1, latestB.StepIndex)

	// Interrupt payloads survive the round trip.
	withInterrupt := sampleCheckpoint("thread-a", 3)
	withInterrupt.Next = "governor"
	withInterrupt.Interrupt = map[string]any{"action_summary": "apply plan", "requires_approval": true}
	require.NoError(t, cp.Put(ctx, withInterrupt))

	latest, err = cp.Latest(ctx, "thread-a")
	require.NoError(t, err)
	require.NotNil(t, latest.Interrupt)
	assert.Equal(t, "apply plan", latest.Interrupt["action_summary"])
	assert.Equal(t, true, latest.Interrupt["requires_approval"])
}

func TestMemoryCheckpointer(t *testing.T) {
	cp := NewMemoryCheckpointer()
	defer cp.Close()
	runCheckpointerSuite(t, cp)
}

func TestSQLiteCheckpointer(t *testing.T) {
	cp, err := NewSQLiteCheckpointer(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer cp.Close()
	runCheckpointerSuite(t, cp)
}

func TestSQLiteCheckpointer_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	cp, err := NewSQLiteCheckpointer(path)
	require.NoError(t, err)
	require.NoError(t, cp.Put(context.Background(), sampleCheckpoint("thread-r", 4)))
	require.NoError(t, cp.Close())

	reopened, err := NewSQLiteCheckpointer(path)
	require.NoError(t, err)
	defer reopened.Close()

	latest, err := reopened.Latest(context.Background(), "thread-r")
	require.NoError(t, err)
	assert.Equal(t, 4, latest.StepIndex)
	assert.Equal(t, "jurist", latest.Next)
}
