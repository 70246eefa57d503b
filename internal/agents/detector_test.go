package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoverify-ai/ecoverify/internal/bms"
	"github.com/ecoverify-ai/ecoverify/internal/graph"
	"github.com/ecoverify-ai/ecoverify/internal/nhi"
	"github.com/ecoverify-ai/ecoverify/internal/state"
)

func TestDetector_InjectedSpikeProducesSignedFindings(t *testing.T) {
	f := newFixture(t, 7)
	f.telemetry.Inject("HQ-01", 0.9)

	res, err := f.steps.Detector(context.Background(), graph.StepContext{ThreadID: "t-detect"}, state.New())
	require.NoError(t, err)
	delta, ok := res.(graph.Delta)
	require.True(t, ok)
	d := delta.Delta

	// A 0.9 severity injection always spikes the last 3 readings.
	require.True(t, d.AnomaliesSet)
	require.NotEmpty(t, d.Anomalies)
	assert.Equal(t, "energy_spike", d.Anomalies[0].Type)
	assert.Equal(t, "HQ-01", d.Anomalies[0].BuildingID)
	assert.Contains(t, []string{"high", "medium"}, d.Anomalies[0].Severity)
	assert.Contains(t, d.Anomalies[0].Metric, "% above average")
	assert.Greater(t, d.Anomalies[0].Peak, d.Anomalies[0].Avg)

	require.True(t, d.CitationsSet)
	require.Len(t, d.Citations, 2)
	assert.True(t, nhi.Present(d.Citations))
	assert.Equal(t, "bms:energy:HQ-01", d.Citations[0].SourceID)
	assert.Equal(t, "bms:water:HQ-01", d.Citations[1].SourceID)

	require.Len(t, d.DecisionTraces, 1)
	trace := d.DecisionTraces[0]
	assert.Equal(t, "detector", trace.AgentID)
	assert.Equal(t, "anomaly_scan", trace.Decision["action"])
	verifyTrace(t, f.keys, trace)

	assert.Equal(t, state.PhaseDetectorComplete, d.CurrentPhase)
	require.NotNil(t, d.IterationCount)
	assert.Equal(t, 1, *d.IterationCount)

	require.NotEmpty(t, d.UIEvents)
	assert.Equal(t, "neural_feed", d.UIEvents[0].Type)
	assert.Equal(t, "DETECTOR", d.UIEvents[0].Data["agent"])

	require.Len(t, d.Messages, 1)
	assert.Contains(t, d.Messages[0].Content, "[DETECTOR] Scanned HQ-01")
}

func TestDetector_CitationsCommitToTelemetry(t *testing.T) {
	f := newFixture(t, 11)
	f.telemetry.Inject("HQ-01", 0.5)

	res, err := f.steps.Detector(context.Background(), graph.StepContext{ThreadID: "t-cite"}, state.New())
	require.NoError(t, err)
	d := res.(graph.Delta).Delta

	energy, ok := d.TelemetryData["energy"].(bms.Telemetry)
	require.True(t, ok)
	assert.True(t, nhi.Matches(d.Citations[0], energy),
		"energy citation must hash the exact telemetry returned")

	water, ok := d.TelemetryData["water"].(bms.Telemetry)
	require.True(t, ok)
	assert.True(t, nhi.Matches(d.Citations[1], water))
}

func TestDetector_IterationCountAdvancesPerScan(t *testing.T) {
	f := newFixture(t, 3)

	st := state.New()
	st.IterationCount = 2

	res, err := f.steps.Detector(context.Background(), graph.StepContext{ThreadID: "t-iter"}, st)
	require.NoError(t, err)
	d := res.(graph.Delta).Delta
	require.NotNil(t, d.IterationCount)
	assert.Equal(t, 3, *d.IterationCount)
}

func TestDetector_FindingsMatchTelemetrySummaries(t *testing.T) {
	// No injection: findings must mirror whatever the summaries report,
	// spike or not.
	f := newFixture(t, 23)

	res, err := f.steps.Detector(context.Background(), graph.StepContext{ThreadID: "t-clean"}, state.New())
	require.NoError(t, err)
	d := res.(graph.Delta).Delta

	energy := d.TelemetryData["energy"].(bms.Telemetry)
	water := d.TelemetryData["water"].(bms.Telemetry)

	want := 0
	if energy.Summary.AnomalyCount > 0 {
		want++
	}
	if water.Summary.AnomalyCount > 0 {
		want++
	}
	assert.Len(t, d.Anomalies, want)
	assert.Equal(t, state.PhaseDetectorComplete, d.CurrentPhase)
}

func TestRouteAfterDetector(t *testing.T) {
	f := newFixture(t, 1)

	st := state.New()
	assert.Equal(t, graph.End, f.steps.routeAfterDetector(st))

	st.Anomalies = []state.Anomaly{energyAnomaly("high", 220, 130)}
	assert.Equal(t, "jurist", f.steps.routeAfterDetector(st))
}
