package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ecoverify-ai/ecoverify/internal/nhi"
	"github.com/ecoverify-ai/ecoverify/internal/state"
)

// Runner errors.
var (
	ErrThreadNotFound = errors.New("graph: thread not found")
	ErrNotInterrupted = errors.New("graph: thread is not awaiting approval")
	ErrAlreadyRunning = errors.New("graph: thread is already running")
	ErrThreadFinished = errors.New("graph: thread already finished")
	ErrUnknownNode    = errors.New("graph: unknown node")
)

// ThreadStatus is the runtime view of a thread's lifecycle.
type ThreadStatus string

const (
	StatusRunning   ThreadStatus = "running"
	StatusWaiting   ThreadStatus = "waiting"
	StatusCompleted ThreadStatus = "completed"
	StatusCancelled ThreadStatus = "cancelled"
	StatusErrored   ThreadStatus = "errored"
)

// Event is one observer-facing notification. UI events stream with
// their own type; the runtime adds phase_change, interrupt, and
// complete events.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Status is the summary returned by Status().
type Status struct {
	ThreadID         string   `json:"thread_id"`
	Phase            string   `json:"phase"`
	IsRunning        bool     `json:"is_running"`
	IsInterrupted    bool     `json:"is_interrupted"`
	AnomalyCount     int      `json:"anomaly_count"`
	ComplianceStatus string   `json:"compliance_status"`
	MonthlySavings   float64  `json:"monthly_savings"`
	RiskScore        *float64 `json:"risk_score"`
	SettlementCount  int      `json:"settlement_count"`
	FHIRAuditStatus  string   `json:"fhir_audit_status"`
}

// VerifiedTrace is a decision trace re-verified against the identity
// store at read time.
type VerifiedTrace struct {
	nhi.DecisionTrace
	Verified bool `json:"verified"`
}

type thread struct {
	id string

	mu         sync.Mutex
	st         state.ExecutionState
	next       string
	stepIndex  int
	dispatches int
	status     ThreadStatus
	interrupt  map[string]any
	human      *HumanResponse
	cancelled  bool
	events     []Event
	subs       map[int]chan Event
	nextSubID  int
}

// Runner drives threads through the node graph, one checkpoint per
// step. Threads execute concurrently; each thread is strictly
// sequential.
type Runner struct {
	nodes          map[string]Node
	start          string
	cp             Checkpointer
	logger         *slog.Logger
	recursionLimit int
	stepTimeout    time.Duration
	verify         func(nhi.DecisionTrace) bool

	mu      sync.Mutex
	threads map[string]*thread
}

// Option configures a Runner.
type Option func(*Runner)

// WithCheckpointer swaps the checkpoint store (default in-memory).
func WithCheckpointer(cp Checkpointer) Option {
	return func(r *Runner) { r.cp = cp }
}

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithRecursionLimit caps total step dispatches per run (default 25).
func WithRecursionLimit(n int) Option {
	return func(r *Runner) { r.recursionLimit = n }
}

// WithStepTimeout bounds each step's wall clock (default 30s).
func WithStepTimeout(d time.Duration) Option {
	return func(r *Runner) { r.stepTimeout = d }
}

// WithTraceVerifier sets the function used to re-verify decision
// traces in Traces().
func WithTraceVerifier(verify func(nhi.DecisionTrace) bool) Option {
	return func(r *Runner) { r.verify = verify }
}

// NewRunner builds a runner over a static node map with the given start
// node.
func NewRunner(nodes map[string]Node, start string, opts ...Option) (*Runner, error) {
	if _, ok := nodes[start]; !ok {
		return nil, fmt.Errorf("%w: start node %q", ErrUnknownNode, start)
	}
	r := &Runner{
		nodes:          nodes,
		start:          start,
		cp:             NewMemoryCheckpointer(),
		logger:         slog.Default(),
		recursionLimit: 25,
		stepTimeout:    30 * time.Second,
		verify:         func(nhi.DecisionTrace) bool { return false },
		threads:        make(map[string]*thread),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start launches a new thread from initial state. An empty threadID
// gets a generated UUID. The run proceeds asynchronously; observers
// attach via Subscribe.
func (r *Runner) Start(_ context.Context, initial state.ExecutionState, threadID string) (string, error) {
	if threadID == "" {
		threadID = uuid.NewString()
	}

	r.mu.Lock()
	if _, exists := r.threads[threadID]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, threadID)
	}
	t := &thread{
		id:     threadID,
		st:     initial,
		next:   r.start,
		status: StatusRunning,
		subs:   make(map[int]chan Event),
	}
	r.threads[threadID] = t
	r.mu.Unlock()

	r.logger.Info("thread started", "thread_id", threadID)
	go r.runLoop(t)
	return threadID, nil
}

// Resume delivers the human response to a thread suspended at its
// breakpoint and continues execution. If the thread is not in memory
// (fresh process), it is rehydrated from the latest checkpoint.
func (r *Runner) Resume(ctx context.Context, threadID string, human HumanResponse) error {
	t, err := r.getOrRehydrate(ctx, threadID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.status != StatusWaiting {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s (status %s)", ErrNotInterrupted, threadID, t.status)
	}
	if human.ROIAdjustment == 0 {
		human.ROIAdjustment = 1.0
	}
	human.ROIAdjustment = min(max(human.ROIAdjustment, 0.5), 1.5)
	t.human = &human
	t.interrupt = nil
	t.status = StatusRunning
	t.mu.Unlock()

	r.logger.Info("thread resumed", "thread_id", threadID, "approved", human.Approved,
		"roi_adjustment", human.ROIAdjustment)
	go r.runLoop(t)
	return nil
}

// Cancel requests a cooperative stop. A running thread stops at the
// next step boundary; a waiting thread finalizes immediately.
func (r *Runner) Cancel(threadID string) error {
	r.mu.Lock()
	t, ok := r.threads[threadID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}

	t.mu.Lock()
	switch t.status {
	case StatusCompleted, StatusCancelled, StatusErrored:
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrThreadFinished, threadID)
	case StatusWaiting:
		t.cancelled = true
		t.mu.Unlock()
		r.finalizeCancelled(t)
		return nil
	default:
		t.cancelled = true
		t.mu.Unlock()
		return nil
	}
}

// Status summarizes the thread's current state for the facade.
func (r *Runner) Status(ctx context.Context, threadID string) (Status, error) {
	t, err := r.getOrRehydrate(ctx, threadID)
	if err != nil {
		return Status{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return buildStatus(threadID, t.st, t.status), nil
}

// State returns the thread's current merged state.
func (r *Runner) State(ctx context.Context, threadID string) (state.ExecutionState, error) {
	t, err := r.getOrRehydrate(ctx, threadID)
	if err != nil {
		return state.ExecutionState{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st, nil
}

// Traces returns the thread's decision traces, each re-verified against
// the identity store.
func (r *Runner) Traces(ctx context.Context, threadID string) ([]VerifiedTrace, error) {
	st, err := r.State(ctx, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]VerifiedTrace, 0, len(st.DecisionTraces))
	for _, trace := range st.DecisionTraces {
		out = append(out, VerifiedTrace{DecisionTrace: trace, Verified: r.verify(trace)})
	}
	return out, nil
}

// Subscribe attaches an observer. The returned channel first replays
// the thread's event history in order, then streams live events. The
// cancel function detaches and closes the channel. If the thread is not
// in memory (fresh process), it is rehydrated from the latest
// checkpoint and the replay history rebuilt from persisted state.
func (r *Runner) Subscribe(ctx context.Context, threadID string) (<-chan Event, func(), error) {
	t, err := r.getOrRehydrate(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}

	t.mu.Lock()
	ch := make(chan Event, len(t.events)+256)
	for _, ev := range t.events {
		ch <- ev
	}
	id := t.nextSubID
	t.nextSubID++
	t.subs[id] = ch
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if _, live := t.subs[id]; live {
			delete(t.subs, id)
			close(ch)
		}
		t.mu.Unlock()
	}
	return ch, cancel, nil
}

func (r *Runner) getOrRehydrate(ctx context.Context, threadID string) (*thread, error) {
	r.mu.Lock()
	t, ok := r.threads[threadID]
	r.mu.Unlock()
	if ok {
		return t, nil
	}

	cp, err := r.cp.Latest(ctx, threadID)
	if err != nil {
		if errors.Is(err, ErrNoCheckpoint) {
			return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}
		return nil, err
	}

	status := StatusCompleted
	if cp.Interrupt != nil {
		status = StatusWaiting
	} else if cp.Next != End {
		// The previous process died mid-run; the thread parks until an
		// operator resumes or restarts it.
		status = StatusErrored
	}
	switch cp.State.CurrentPhase {
	case state.PhaseCancelled:
		status = StatusCancelled
	case state.PhaseError, state.PhaseRecursionExceeded:
		status = StatusErrored
	}

	t = &thread{
		id:         threadID,
		st:         cp.State,
		next:       cp.Next,
		stepIndex:  cp.StepIndex,
		dispatches: cp.Dispatches,
		status:     status,
		interrupt:  cp.Interrupt,
		events:     replayEvents(cp, status),
		subs:       make(map[int]chan Event),
	}

	r.mu.Lock()
	if existing, raced := r.threads[threadID]; raced {
		t = existing
	} else {
		r.threads[threadID] = t
	}
	r.mu.Unlock()
	r.logger.Info("thread rehydrated from checkpoint",
		"thread_id", threadID, "step_index", cp.StepIndex, "status", string(t.status))
	return t, nil
}

// replayEvents rebuilds a rehydrated thread's event history from the
// persisted state: the UI events in order, a synthetic interrupt when
// the thread is parked at the breakpoint, and a terminal complete event
// when the thread already finished. Per-step phase_change events are
// not persisted; the terminal events carry the final phase.
func replayEvents(cp Checkpoint, status ThreadStatus) []Event {
	events := make([]Event, 0, len(cp.State.UIEvents)+1)
	for _, ev := range cp.State.UIEvents {
		events = append(events, Event{Type: ev.Type, Payload: ev.Data})
	}
	if cp.Interrupt != nil {
		events = append(events, Event{Type: "interrupt", Payload: cp.Interrupt})
	}
	switch status {
	case StatusCompleted, StatusCancelled, StatusErrored:
		events = append(events, Event{Type: "complete", Payload: map[string]any{
			"phase": string(cp.State.CurrentPhase),
		}})
	}
	return events
}

// runLoop drives one thread until it suspends, finishes, or fails. Only
// one runLoop is ever active per thread.
func (r *Runner) runLoop(t *thread) {
	for {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			r.finalizeCancelled(t)
			return
		}
		if t.dispatches >= r.recursionLimit {
			r.finalizeLocked(t, state.PhaseRecursionExceeded, StatusErrored,
				fmt.Sprintf("runtime: recursion limit %d exceeded", r.recursionLimit))
			t.mu.Unlock()
			return
		}
		nodeName := t.next
		sc := StepContext{ThreadID: t.id, Human: t.human}
		t.human = nil
		snapshot := t.st
		t.mu.Unlock()

		node, ok := r.nodes[nodeName]
		if !ok {
			t.mu.Lock()
			r.finalizeLocked(t, state.PhaseError, StatusErrored,
				fmt.Sprintf("runtime: unknown node %q", nodeName))
			t.mu.Unlock()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.stepTimeout)
		started := time.Now()
		res, err := node.Step(ctx, sc, snapshot)
		cancel()

		t.mu.Lock()
		t.dispatches++
		if err != nil {
			r.logger.Error("step failed", "thread_id", t.id, "node", nodeName, "error", err)
			r.finalizeLocked(t, state.PhaseError, StatusErrored,
				fmt.Sprintf("%s: %v", nodeName, err))
			t.mu.Unlock()
			return
		}
		r.logger.Debug("step complete",
			"thread_id", t.id, "node", nodeName, "duration", time.Since(started))

		switch v := res.(type) {
		case Suspend:
			t.status = StatusWaiting
			t.interrupt = v.Payload
			if events := suspendUIEvents(v.Payload); len(events) > 0 {
				r.mergeLocked(t, state.Delta{UIEvents: events, CurrentPhase: state.PhaseAwaitingApproval})
			} else {
				r.mergeLocked(t, state.Delta{CurrentPhase: state.PhaseAwaitingApproval})
			}
			r.checkpointLocked(t, nodeName)
			r.emitLocked(t, Event{Type: "interrupt", Payload: v.Payload})
			t.mu.Unlock()
			r.logger.Info("thread suspended at breakpoint", "thread_id", t.id, "node", nodeName)
			return

		case Command:
			r.mergeLocked(t, v.Delta)
			t.next = v.Goto
			r.checkpointLocked(t, v.Goto)

		case Delta:
			r.mergeLocked(t, v.Delta)
			if node.Router == nil {
				t.next = End
			} else {
				t.next = node.Router(t.st)
			}
			r.checkpointLocked(t, t.next)
		}

		if t.next == End {
			t.status = StatusCompleted
			phase := string(t.st.CurrentPhase)
			r.emitLocked(t, Event{Type: "complete", Payload: map[string]any{"phase": phase}})
			t.mu.Unlock()
			r.logger.Info("thread complete", "thread_id", t.id, "phase", phase)
			return
		}
		t.mu.Unlock()
	}
}

// suspendUIEvents extracts pre-interrupt UI events from the payload so
// they are persisted and streamed before the pause.
func suspendUIEvents(payload map[string]any) []state.UIEvent {
	raw, ok := payload["ui_events"].([]state.UIEvent)
	if !ok {
		return nil
	}
	return raw
}

// mergeLocked merges a delta and streams the phase change plus any new
// UI events. Caller holds t.mu.
func (r *Runner) mergeLocked(t *thread, d state.Delta) {
	prevPhase := t.st.CurrentPhase
	prevEvents := len(t.st.UIEvents)
	t.st = state.Merge(t.st, d)

	if t.st.CurrentPhase != prevPhase {
		r.emitLocked(t, Event{Type: "phase_change", Payload: map[string]any{
			"phase": reportedPhase(t.st.CurrentPhase),
		}})
	}
	for _, ev := range t.st.UIEvents[prevEvents:] {
		r.emitLocked(t, Event{Type: ev.Type, Payload: ev.Data})
	}
}

func (r *Runner) checkpointLocked(t *thread, next string) {
	t.stepIndex++
	cp := Checkpoint{
		ThreadID:   t.id,
		StepIndex:  t.stepIndex,
		State:      t.st,
		Next:       next,
		Interrupt:  t.interrupt,
		Dispatches: t.dispatches,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.cp.Put(context.Background(), cp); err != nil {
		r.logger.Error("checkpoint write failed", "thread_id", t.id, "step_index", t.stepIndex, "error", err)
	}
}

// finalizeLocked records a terminal phase with an error line. Caller
// holds t.mu.
func (r *Runner) finalizeLocked(t *thread, phase state.Phase, status ThreadStatus, errLine string) {
	r.mergeLocked(t, state.Delta{CurrentPhase: phase, ErrorLog: []string{errLine}})
	t.status = status
	r.checkpointLocked(t, End)
	r.emitLocked(t, Event{Type: "complete", Payload: map[string]any{"phase": string(phase)}})
	r.logger.Warn("thread terminated", "thread_id", t.id, "phase", string(phase), "reason", errLine)
}

func (r *Runner) finalizeCancelled(t *thread) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusCancelled {
		return
	}
	r.mergeLocked(t, state.Delta{CurrentPhase: state.PhaseCancelled})
	t.status = StatusCancelled
	t.interrupt = nil
	r.checkpointLocked(t, End)
	r.emitLocked(t, Event{Type: "complete", Payload: map[string]any{"phase": string(state.PhaseCancelled)}})
	r.logger.Info("thread cancelled", "thread_id", t.id)
}

func (r *Runner) emitLocked(t *thread, ev Event) {
	t.events = append(t.events, ev)
	for id, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			r.logger.Warn("dropping event for slow subscriber", "thread_id", t.id, "sub", id, "type", ev.Type)
		}
	}
}

// reportedPhase maps the internal no-anomaly terminal phase to the
// public name used by the dashboard API.
func reportedPhase(p state.Phase) string {
	if p == state.PhaseDetectorComplete {
		return "vanguard_complete"
	}
	return string(p)
}

func buildStatus(threadID string, st state.ExecutionState, ts ThreadStatus) Status {
	s := Status{
		ThreadID:        threadID,
		Phase:           reportedPhase(st.CurrentPhase),
		IsRunning:       ts == StatusRunning,
		IsInterrupted:   ts == StatusWaiting,
		AnomalyCount:    len(st.Anomalies),
		SettlementCount: len(st.Settlements),
	}
	if st.ComplianceReport != nil {
		if v, ok := st.ComplianceReport["status"].(string); ok {
			s.ComplianceStatus = v
		}
	}
	if st.SimulationResult != nil {
		s.MonthlySavings = anyFloat(st.SimulationResult["monthly_savings_usd"])
	}
	if n := len(st.RiskScores); n > 0 {
		score := anyFloat(st.RiskScores[n-1]["score"])
		s.RiskScore = &score
	}
	for i := len(st.UIEvents) - 1; i >= 0; i-- {
		if st.UIEvents[i].Type != "fhir_audit" {
			continue
		}
		if audit, ok := st.UIEvents[i].Data["audit"].(map[string]any); ok {
			if v, ok := audit["compliance_status"].(string); ok {
				s.FHIRAuditStatus = v
			}
		}
		break
	}
	return s
}

func anyFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
