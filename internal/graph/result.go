// Package graph is the durable cyclic state-machine runtime: a static
// node map driven step by step, checkpointed after every dispatch, with
// interrupt/resume at designated breakpoints.
package graph

import (
	"context"

	"github.com/ecoverify-ai/ecoverify/internal/state"
)

// End is the router sentinel for "no next node".
const End = "__end__"

// HumanResponse is the operator's answer to a pending interrupt.
type HumanResponse struct {
	Approved      bool    `json:"approved"`
	ROIAdjustment float64 `json:"roi_adjustment"`
}

// StepContext carries per-dispatch inputs that are not part of shared
// state. Human is non-nil only when re-entering a suspended step after
// Resume.
type StepContext struct {
	ThreadID string
	Human    *HumanResponse
}

// StepResult is the sum type returned by a step: Delta, Command, or
// Suspend.
type StepResult interface {
	isStepResult()
}

// Delta is the common case: a state update, with the next node chosen
// by the source node's router.
type Delta struct {
	Delta state.Delta
}

// Command is a state update plus an explicit routing directive,
// bypassing the router.
type Command struct {
	Goto  string
	Delta state.Delta
}

// Suspend pauses the thread at the current node, carrying the payload
// shown to the operator. The runtime re-dispatches the same node when
// the thread is resumed.
type Suspend struct {
	Payload map[string]any
}

func (Delta) isStepResult()   {}
func (Command) isStepResult() {}
func (Suspend) isStepResult() {}

// Step is one node's behavior: pure state in, StepResult out.
type Step func(ctx context.Context, sc StepContext, st state.ExecutionState) (StepResult, error)

// Router picks the next node after a Delta result. It must return a
// node name or End for every valid state.
type Router func(st state.ExecutionState) string

// Node pairs a step with its router. Nodes whose steps only ever return
// Command or Suspend may leave Router nil.
type Node struct {
	Step   Step
	Router Router
}
