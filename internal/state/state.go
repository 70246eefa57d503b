// Package state defines the shared execution state of a pipeline thread
// and the per-field merge semantics applied after every step. Steps never
// mutate state directly; they return a Delta and the runtime merges it.
package state

import (
	"time"

	"github.com/ecoverify-ai/ecoverify/internal/nhi"
)

// Phase is the lifecycle marker of a thread. It advances monotonically
// except when the citation self-correction loop routes back to the
// detector.
type Phase string

const (
	PhaseStarting          Phase = "starting"
	PhaseDetectorComplete  Phase = "detector_complete"
	PhaseCitationFailure   Phase = "citation_failure"
	PhaseJuristComplete    Phase = "jurist_complete"
	PhaseArchitectComplete Phase = "architect_complete"
	PhaseAwaitingApproval  Phase = "awaiting_approval"
	PhaseGovernorApproved  Phase = "governor_approved"
	PhaseGovernorRejected  Phase = "governor_rejected"
	PhaseComplete          Phase = "complete"
	PhaseCancelled         Phase = "cancelled"
	PhaseRecursionExceeded Phase = "recursion_exceeded"
	PhaseError             Phase = "error"
)

// Message is one dialog entry in the agent conversation log.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UIEvent is a typed frontend event committed to state by a step and
// later streamed to SSE subscribers in commit order.
type UIEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Anomaly is one detected telemetry deviation.
type Anomaly struct {
	Type       string    `json:"type"`
	BuildingID string    `json:"building_id"`
	Severity   string    `json:"severity"`
	Metric     string    `json:"metric"`
	Peak       float64   `json:"peak"`
	Avg        float64   `json:"avg"`
	DetectedAt time.Time `json:"detected_at"`
}

// ExecutionState is the full shared state of one thread. Fields marked
// append in the merge table only ever grow over a thread's history.
type ExecutionState struct {
	Messages         []Message           `json:"messages"`
	TelemetryData    map[string]any      `json:"telemetry_data,omitempty"`
	Anomalies        []Anomaly           `json:"anomalies"`
	Citations        []nhi.CitationBlock `json:"citations"`
	DecisionTraces   []nhi.DecisionTrace `json:"decision_traces"`
	ComplianceReport map[string]any      `json:"compliance_report,omitempty"`
	SimulationResult map[string]any      `json:"simulation_result,omitempty"`
	JiraTickets      []map[string]any    `json:"jira_tickets"`
	GovernorApproval *bool               `json:"governor_approval"`
	Settlements      []map[string]any    `json:"settlements"`
	RiskScores       []map[string]any    `json:"risk_scores"`
	FHIRObservations []map[string]any    `json:"fhir_observations"`
	EdutechHints     []map[string]any    `json:"edutech_hints"`
	UserIntent       map[string]any      `json:"user_intent,omitempty"`
	CurrentPhase     Phase               `json:"current_phase"`
	ErrorLog         []string            `json:"error_log"`
	IterationCount   int                 `json:"iteration_count"`
	UIEvents         []UIEvent           `json:"ui_events"`
}

// Delta is a partial update returned by a step. Nil slices and maps mean
// "field untouched"; replace fields take the delta value verbatim when
// set. GovernorApproval uses a presence flag so a step can set the
// tri-state to an explicit true or false.
type Delta struct {
	Messages         []Message
	TelemetryData    map[string]any
	Anomalies        []Anomaly
	AnomaliesSet     bool
	Citations        []nhi.CitationBlock
	CitationsSet     bool
	DecisionTraces   []nhi.DecisionTrace
	ComplianceReport map[string]any
	SimulationResult map[string]any
	JiraTickets      []map[string]any
	JiraTicketsSet   bool
	GovernorApproval *bool
	GovernorSet      bool
	Settlements      []map[string]any
	RiskScores       []map[string]any
	FHIRObservations []map[string]any
	EdutechHints     []map[string]any
	UserIntent       map[string]any
	CurrentPhase     Phase
	ErrorLog         []string
	IterationCount   *int
	UIEvents         []UIEvent
}

// Merge applies delta to s and returns the merged state. The receiver is
// not mutated; append fields get fresh backing arrays so earlier
// snapshots stay valid after later merges. De-duplication is never
// performed here.
func Merge(s ExecutionState, d Delta) ExecutionState {
	out := s

	out.Messages = appendCopy(s.Messages, d.Messages)
	out.DecisionTraces = appendCopy(s.DecisionTraces, d.DecisionTraces)
	out.Settlements = appendCopy(s.Settlements, d.Settlements)
	out.RiskScores = appendCopy(s.RiskScores, d.RiskScores)
	out.FHIRObservations = appendCopy(s.FHIRObservations, d.FHIRObservations)
	out.EdutechHints = appendCopy(s.EdutechHints, d.EdutechHints)
	out.ErrorLog = appendCopy(s.ErrorLog, d.ErrorLog)
	out.UIEvents = appendCopy(s.UIEvents, d.UIEvents)

	if d.TelemetryData != nil {
		out.TelemetryData = d.TelemetryData
	}
	if d.AnomaliesSet {
		out.Anomalies = d.Anomalies
	}
	if d.CitationsSet {
		out.Citations = d.Citations
	}
	if d.ComplianceReport != nil {
		out.ComplianceReport = d.ComplianceReport
	}
	if d.SimulationResult != nil {
		out.SimulationResult = d.SimulationResult
	}
	if d.JiraTicketsSet {
		out.JiraTickets = d.JiraTickets
	}
	if d.GovernorSet {
		out.GovernorApproval = d.GovernorApproval
	}
	if d.UserIntent != nil {
		out.UserIntent = d.UserIntent
	}
	if d.CurrentPhase != "" {
		out.CurrentPhase = d.CurrentPhase
	}
	if d.IterationCount != nil {
		out.IterationCount = *d.IterationCount
	}
	return out
}

func appendCopy[T any](base, extra []T) []T {
	if len(extra) == 0 {
		return base
	}
	out := make([]T, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

// IntPtr is a convenience for Delta.IterationCount.
func IntPtr(v int) *int { return &v }

// BoolPtr is a convenience for Delta.GovernorApproval.
func BoolPtr(v bool) *bool { return &v }

// New returns the starting state for a fresh thread.
func New() ExecutionState {
	return ExecutionState{CurrentPhase: PhaseStarting}
}
