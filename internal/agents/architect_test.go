package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoverify-ai/ecoverify/internal/graph"
	"github.com/ecoverify-ai/ecoverify/internal/state"
)

func TestArchitect_ROIProjection(t *testing.T) {
	f := newFixture(t, 1)
	st := anomalyState(t, energyAnomaly("high", 220, 130))

	res, err := f.steps.Architect(context.Background(), graph.StepContext{ThreadID: "t-roi"}, st)
	require.NoError(t, err)
	d := res.(graph.Delta).Delta

	assert.Equal(t, state.PhaseArchitectComplete, d.CurrentPhase)
	require.NotNil(t, d.SimulationResult)

	// 90 kWh excess, 35% recoverable over 730 h, $0.18/kWh, 3 buildings.
	recoverable := 90.0 * 730 * 0.35
	wantMonthly := recoverable * 0.18 * 3
	assert.InDelta(t, wantMonthly, mapFloat(d.SimulationResult, "monthly_savings_usd"), 0.01)
	assert.InDelta(t, wantMonthly*12, mapFloat(d.SimulationResult, "annual_savings_usd"), 0.01)

	wantAnnual := wantMonthly * 12
	wantNPV := wantAnnual/1.08 + wantAnnual/(1.08*1.08) + wantAnnual/(1.08*1.08*1.08)
	assert.InDelta(t, wantNPV, mapFloat(d.SimulationResult, "npv_3yr_usd"), 0.01)

	assert.InDelta(t, recoverable*0.000417*3*12, mapFloat(d.SimulationResult, "co2_tons_saved_annual"), 0.01)
	assert.InDelta(t, 30.0, mapFloat(d.SimulationResult, "env_reduction_pct"), 0.1)
	assert.Equal(t, 1.0, mapFloat(d.SimulationResult, "roi_adjustment"))
	assert.Equal(t, 3.0, mapFloat(d.SimulationResult, "campus_buildings"))

	require.True(t, d.JiraTicketsSet)
	require.Len(t, d.JiraTickets, 1)
	ticket := d.JiraTickets[0]
	assert.Contains(t, mapString(ticket, "title"), "[Auto] Energy Spike - HQ-01")
	assert.Equal(t, "Critical", mapString(ticket, "priority"))
	assert.Equal(t, "Open", mapString(ticket, "status"))

	require.Len(t, d.DecisionTraces, 1)
	trace := d.DecisionTraces[0]
	assert.Equal(t, "architect", trace.AgentID)
	assert.Equal(t, "roi_simulation", trace.Decision["action"])
	verifyTrace(t, f.keys, trace)

	require.Len(t, d.Messages, 1)
	assert.Contains(t, d.Messages[0].Content, "[ARCHITECT] ROI simulation complete")
}

func TestArchitect_RejectionTightensEstimate(t *testing.T) {
	f := newFixture(t, 1)
	st := anomalyState(t, energyAnomaly("high", 220, 130))

	first, err := f.steps.Architect(context.Background(), graph.StepContext{ThreadID: "t-adj"}, st)
	require.NoError(t, err)
	baseline := mapFloat(first.(graph.Delta).Delta.SimulationResult, "monthly_savings_usd")

	st = state.Merge(st, first.(graph.Delta).Delta)
	st.GovernorApproval = state.BoolPtr(false)
	st.SimulationResult["roi_adjustment"] = 0.8

	second, err := f.steps.Architect(context.Background(), graph.StepContext{ThreadID: "t-adj"}, st)
	require.NoError(t, err)
	d := second.(graph.Delta).Delta

	// The operator's 0.8 compounds with the 10% per-rejection haircut.
	assert.InDelta(t, 0.72, mapFloat(d.SimulationResult, "roi_adjustment"), 1e-9)
	assert.InDelta(t, baseline*0.72, mapFloat(d.SimulationResult, "monthly_savings_usd"), 0.01)
}

func TestArchitect_WaterSpikeROI(t *testing.T) {
	f := newFixture(t, 1)
	st := anomalyState(t, state.Anomaly{
		Type: "water_spike", BuildingID: "HQ-01", Severity: "medium",
		Metric: "+42.9% above average", Peak: 700, Avg: 500, DetectedAt: testClock(),
	})

	res, err := f.steps.Architect(context.Background(), graph.StepContext{ThreadID: "t-water"}, st)
	require.NoError(t, err)
	d := res.(graph.Delta).Delta

	wantMonthly := 200.0 * 730 * 0.008 * 0.30 * 3
	assert.InDelta(t, wantMonthly, mapFloat(d.SimulationResult, "monthly_savings_usd"), 0.01)
	assert.Equal(t, 0.0, mapFloat(d.SimulationResult, "co2_tons_saved_monthly"))
	assert.Equal(t, "High", mapString(d.JiraTickets[0], "priority"))
}

func TestBuildScene_DeterministicPerThreadAndIteration(t *testing.T) {
	a := buildScene("thread-x", 1, 1)
	b := buildScene("thread-x", 1, 1)
	assert.Equal(t, a, b, "same thread and iteration must render the same scene")

	c := buildScene("thread-x", 2, 1)
	assert.NotEqual(t, a, c, "a new iteration redraws the scene")

	nodes := a["nodes"].([]map[string]any)
	require.Len(t, nodes, 20)
	connections := a["connections"].([]map[string]any)
	require.Len(t, connections, 31)

	anomalyRacks := 0
	for _, n := range nodes {
		switch n["status"] {
		case "anomaly":
			anomalyRacks++
			assert.Equal(t, "#ff3366", n["color"])
			assert.GreaterOrEqual(t, n["energy_level"].(float64), 0.8)
		case "normal":
			assert.Equal(t, "#00ff88", n["color"])
		}
	}
	assert.Equal(t, 3, anomalyRacks, "one anomaly marks (row*5+col)%%7 == 0 racks")
}
