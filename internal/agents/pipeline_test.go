package agents

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoverify-ai/ecoverify/internal/bms"
	"github.com/ecoverify-ai/ecoverify/internal/graph"
	"github.com/ecoverify-ai/ecoverify/internal/nhi"
	"github.com/ecoverify-ai/ecoverify/internal/state"
)

func newRunner(t *testing.T, f *fixture, opts ...graph.Option) *graph.Runner {
	t.Helper()
	opts = append(opts, graph.WithLogger(slog.New(slog.DiscardHandler)))
	r, err := graph.NewRunner(f.steps.Nodes(), "detector", opts...)
	require.NoError(t, err)
	return r
}

func awaitPhase(t *testing.T, r *graph.Runner, threadID string, interrupted bool, phases ...string) graph.Status {
	t.Helper()
	var status graph.Status
	require.Eventually(t, func() bool {
		var err error
		status, err = r.Status(context.Background(), threadID)
		if err != nil {
			return false
		}
		if status.IsInterrupted != interrupted {
			return false
		}
		for _, p := range phases {
			if status.Phase == p {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond, "thread %s never reached %v (last phase %q)", threadID, phases, status.Phase)
	return status
}

func TestPipeline_FullLoopWithApproval(t *testing.T) {
	f := newFixture(t, 42)
	f.telemetry.Inject("HQ-01", 0.9)
	r := newRunner(t, f)

	threadID, err := r.Start(context.Background(), state.New(), "")
	require.NoError(t, err)

	status := awaitPhase(t, r, threadID, true, string(state.PhaseAwaitingApproval))
	assert.True(t, status.IsInterrupted)
	assert.Positive(t, status.AnomalyCount)
	assert.Equal(t, "compliant", status.ComplianceStatus)
	assert.Positive(t, status.MonthlySavings)

	require.NoError(t, r.Resume(context.Background(), threadID, graph.HumanResponse{Approved: true, ROIAdjustment: 1.0}))
	awaitPhase(t, r, threadID, false, string(state.PhaseComplete))

	st, err := r.State(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, state.PhaseComplete, st.CurrentPhase)
	assert.NotEmpty(t, st.Settlements)
	assert.NotEmpty(t, st.RiskScores)
	assert.NotEmpty(t, st.JiraTickets)
	assert.Equal(t, "In Progress", mapString(st.JiraTickets[0], "status"))

	// One signed trace per deciding agent, all verifiable.
	agents := make(map[string]int)
	for _, trace := range st.DecisionTraces {
		agents[trace.AgentID]++
		verifyTrace(t, f.keys, trace)
	}
	assert.Equal(t, map[string]int{"detector": 1, "jurist": 1, "architect": 1, "governor": 1}, agents)

	// The proof graph covers the full chain.
	var mermaid string
	for _, ev := range st.UIEvents {
		if ev.Type == "proof_graph" {
			mermaid = ev.Data["mermaid"].(string)
		}
	}
	require.NotEmpty(t, mermaid)
	assert.Contains(t, mermaid, "DETECTOR")
	assert.Contains(t, mermaid, "GOVERNOR")
}

func TestPipeline_RejectionReSimulatesWithTighterROI(t *testing.T) {
	f := newFixture(t, 42)
	f.telemetry.Inject("HQ-01", 0.9)
	r := newRunner(t, f)

	threadID, err := r.Start(context.Background(), state.New(), "thread-resim")
	require.NoError(t, err)

	first := awaitPhase(t, r, threadID, true, string(state.PhaseAwaitingApproval))
	require.NoError(t, r.Resume(context.Background(), threadID, graph.HumanResponse{Approved: false, ROIAdjustment: 0.8}))

	second := awaitPhase(t, r, threadID, true, string(state.PhaseAwaitingApproval))
	assert.Less(t, second.MonthlySavings, first.MonthlySavings,
		"re-simulation after rejection must tighten the estimate")

	st, err := r.State(context.Background(), threadID)
	require.NoError(t, err)
	assert.InDelta(t, 0.72, mapFloat(st.SimulationResult, "roi_adjustment"), 1e-9)

	require.NoError(t, r.Resume(context.Background(), threadID, graph.HumanResponse{Approved: true}))
	awaitPhase(t, r, threadID, false, string(state.PhaseComplete))

	st, err = r.State(context.Background(), threadID)
	require.NoError(t, err)
	governorTraces := 0
	for _, trace := range st.DecisionTraces {
		if trace.AgentID == "governor" {
			governorTraces++
		}
	}
	assert.Equal(t, 2, governorTraces)
}

func TestPipeline_CleanScanEndsEarly(t *testing.T) {
	seed, ok := findCleanSeed()
	if !ok {
		t.Skip("no seed under 200 yields a clean window at the fixed clock")
	}

	f := newFixture(t, seed)
	r := newRunner(t, f)

	threadID, err := r.Start(context.Background(), state.New(), "thread-clean")
	require.NoError(t, err)

	// Status reports the dashboard-facing phase name for a clean scan.
	status := awaitPhase(t, r, threadID, false, "vanguard_complete")
	assert.Zero(t, status.AnomalyCount)
	assert.False(t, status.IsRunning)

	st, err := r.State(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, state.PhaseDetectorComplete, st.CurrentPhase)
	require.Len(t, st.DecisionTraces, 1)
	assert.Equal(t, "detector", st.DecisionTraces[0].AgentID)
	assert.Nil(t, st.ComplianceReport)
}

// findCleanSeed probes simulator seeds for a 24h window with no noise
// anomalies, matching the consumption order of a detector scan.
func findCleanSeed() (uint64, bool) {
	for seed := uint64(1); seed <= 200; seed++ {
		sim := bms.NewSimulator(bms.WithSeed(seed), bms.WithClock(testClock))
		energy := sim.Energy(DefaultBuildingID, 24)
		water := sim.Water(DefaultBuildingID, 24)
		if energy.Summary.AnomalyCount == 0 && water.Summary.AnomalyCount == 0 {
			return seed, true
		}
	}
	return 0, false
}

func TestPipeline_ResumeSurvivesProcessRestart(t *testing.T) {
	shared := graph.NewMemoryCheckpointer()
	f := newFixture(t, 42)
	f.telemetry.Inject("HQ-01", 0.9)

	r1 := newRunner(t, f, graph.WithCheckpointer(shared))
	threadID, err := r1.Start(context.Background(), state.New(), "thread-restart")
	require.NoError(t, err)
	awaitPhase(t, r1, threadID, true, string(state.PhaseAwaitingApproval))

	// A second runner over the same checkpoint store and key material
	// stands in for a restarted process.
	r2 := newRunner(t, f, graph.WithCheckpointer(shared))
	require.NoError(t, r2.Resume(context.Background(), threadID, graph.HumanResponse{Approved: true}))
	awaitPhase(t, r2, threadID, false, string(state.PhaseComplete))

	st, err := r2.State(context.Background(), threadID)
	require.NoError(t, err)
	assert.NotEmpty(t, st.Settlements)
	for _, trace := range st.DecisionTraces {
		verifyTrace(t, f.keys, trace)
	}
}

func TestPipeline_TracesEndpointVerifies(t *testing.T) {
	f := newFixture(t, 42)
	f.telemetry.Inject("HQ-01", 0.9)

	verifier := func(trace nhi.DecisionTrace) bool {
		pub, err := f.keys.Public(trace.AgentID)
		if err != nil {
			return false
		}
		return nhi.Verify(trace, pub)
	}
	r := newRunner(t, f, graph.WithTraceVerifier(verifier))

	threadID, err := r.Start(context.Background(), state.New(), "thread-traces")
	require.NoError(t, err)
	awaitPhase(t, r, threadID, true, string(state.PhaseAwaitingApproval))

	traces, err := r.Traces(context.Background(), threadID)
	require.NoError(t, err)
	require.Len(t, traces, 3)
	for _, vt := range traces {
		assert.True(t, vt.Verified, "trace for %s", vt.AgentID)
	}
}
