package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoverify-ai/ecoverify/internal/graph"
	"github.com/ecoverify-ai/ecoverify/internal/nhi"
	"github.com/ecoverify-ai/ecoverify/internal/state"
)

func finalizerState(t *testing.T, f *fixture) state.ExecutionState {
	t.Helper()
	st := governorState(t)
	st.GovernorApproval = state.BoolPtr(true)
	st.CurrentPhase = state.PhaseGovernorApproved

	ticket := f.tickets.Create("[Auto] Energy Spike - HQ-01", "Anomaly detected.", "Critical", "auto", "HQ-01")
	st.JiraTickets = []map[string]any{asMap(ticket)}

	for _, agentID := range []string{"detector", "jurist", "architect", "governor"} {
		priv, err := f.keys.Generate(agentID, false)
		require.NoError(t, err)
		trace, err := nhi.Sign(agentID, map[string]any{"action": agentID + "_action"}, priv)
		require.NoError(t, err)
		st.DecisionTraces = append(st.DecisionTraces, trace)
	}
	return st
}

func TestFinalizer_CommitsApprovedAction(t *testing.T) {
	f := newFixture(t, 1)
	st := finalizerState(t, f)

	res, err := f.steps.Finalizer(context.Background(), graph.StepContext{ThreadID: "t-final"}, st)
	require.NoError(t, err)
	d := res.(graph.Delta).Delta

	assert.Equal(t, state.PhaseComplete, d.CurrentPhase)

	// Tickets move to In Progress in both the tracker and the state.
	require.True(t, d.JiraTicketsSet)
	require.Len(t, d.JiraTickets, 1)
	assert.Equal(t, "In Progress", mapString(d.JiraTickets[0], "status"))
	updated, err := f.tickets.UpdateStatus(mapString(d.JiraTickets[0], "ticket_id"), "In Progress")
	require.NoError(t, err)
	assert.Equal(t, "In Progress", updated.Status)

	// The service fee is 0.1% of projected monthly savings.
	require.Len(t, d.Settlements, 1)
	settled := d.Settlements[0]
	assert.InDelta(t, 12.4173, mapFloat(settled, "amount_usdc"), 0.0001)
	assert.Equal(t, "confirmed", mapString(settled, "status"))
	assert.Equal(t, "architect", mapString(settled, "from_agent"))
	assert.Equal(t, "governor", mapString(settled, "to_agent"))
	assert.Len(t, mapString(settled, "tx_signature"), 88)

	require.Len(t, d.RiskScores, 1)
	assert.Greater(t, mapFloat(d.RiskScores[0], "score"), 0.0)
	assert.NotEmpty(t, mapString(d.RiskScores[0], "category"))

	require.NotEmpty(t, d.FHIRObservations)
	assert.LessOrEqual(t, len(d.FHIRObservations), 5)

	// The finalizer aggregates; it never signs.
	assert.Empty(t, d.DecisionTraces)

	types := make(map[string]int)
	var summary map[string]any
	var mermaid string
	for _, ev := range d.UIEvents {
		types[ev.Type]++
		if ev.Type == "execution_complete" {
			summary = ev.Data["summary"].(map[string]any)
		}
		if ev.Type == "proof_graph" {
			mermaid = ev.Data["mermaid"].(string)
		}
	}
	for _, want := range []string{"proof_graph", "execution_complete", "settlement_update", "risk_alert", "fhir_audit", "neural_feed"} {
		assert.Positive(t, types[want], "missing %s event", want)
	}

	require.NotNil(t, summary)
	assert.Equal(t, 1, summary["anomalies_detected"])
	assert.Equal(t, "compliant", summary["compliance_status"])
	assert.Equal(t, 4, summary["decision_traces_count"])

	assert.Contains(t, mermaid, "graph TD")
	assert.Contains(t, mermaid, "DETECTOR\\ndetector_action")
	assert.Contains(t, mermaid, "sig:"+st.DecisionTraces[0].PayloadHash[:8])
}

func TestFinalizer_NoFeeWhenNoSavings(t *testing.T) {
	f := newFixture(t, 1)
	st := finalizerState(t, f)
	st.SimulationResult = map[string]any{"monthly_savings_usd": 0.0}

	res, err := f.steps.Finalizer(context.Background(), graph.StepContext{ThreadID: "t-nofee"}, st)
	require.NoError(t, err)
	d := res.(graph.Delta).Delta
	assert.Empty(t, d.Settlements)
	assert.Equal(t, state.PhaseComplete, d.CurrentPhase)
}

func TestFinalizer_FrictionGeneratesUpskillHints(t *testing.T) {
	f := newFixture(t, 1)
	st := finalizerState(t, f)
	// Four scans with two failures: a self-correction loop and an
	// elevated error rate.
	st.IterationCount = 4
	st.ErrorLog = []string{
		"jurist: cite-before-act violation, no valid citations from detector",
		"jurist: cite-before-act violation, no valid citations from detector",
	}

	res, err := f.steps.Finalizer(context.Background(), graph.StepContext{ThreadID: "t-friction"}, st)
	require.NoError(t, err)
	d := res.(graph.Delta).Delta

	require.NotEmpty(t, d.EdutechHints)
	topics := make([]string, 0, len(d.EdutechHints))
	for _, hint := range d.EdutechHints {
		topics = append(topics, mapString(hint, "topic"))
	}
	assert.Contains(t, topics, "Data Citation and Source Verification")

	hintEvents := 0
	for _, ev := range d.UIEvents {
		if ev.Type == "edutech_hint" {
			hintEvents++
		}
	}
	assert.Equal(t, len(d.EdutechHints), hintEvents)
}

func TestEnergyReadings_SourcePrecedence(t *testing.T) {
	// Checkpoint-rehydrated telemetry arrives as generic JSON.
	st := state.New()
	st.TelemetryData = map[string]any{
		"energy": map[string]any{
			"readings": []any{
				map[string]any{"value": 150.5},
				map[string]any{"value": 161.2},
			},
		},
	}
	assert.Equal(t, []float64{150.5, 161.2}, energyReadings(st))

	// Without telemetry, reconstruct from the first energy anomaly.
	st = state.New()
	st.Anomalies = []state.Anomaly{energyAnomaly("high", 220, 130)}
	readings := energyReadings(st)
	require.Len(t, readings, 10)
	assert.Equal(t, 130.0, readings[0])
	assert.Equal(t, 220.0, readings[9])

	// Fixed profile as the last resort.
	assert.Equal(t, []float64{145, 138, 152, 180, 141}, energyReadings(state.New()))
}
