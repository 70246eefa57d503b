package proofgraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoverify-ai/ecoverify/internal/nhi"
)

func sampleChain() []nhi.DecisionTrace {
	return []nhi.DecisionTrace{
		{
			AgentID:     "detector",
			Decision:    map[string]any{"action": "anomaly_scan", "anomalies_found": float64(2)},
			PayloadHash: "aabbccdd00112233aabbccdd00112233aabbccdd00112233aabbccdd00112233",
		},
		{
			AgentID:     "jurist",
			Decision:    map[string]any{"action": "compliance_evaluation", "status": "compliant"},
			PayloadHash: "1122334455667788112233445566778811223344556677881122334455667788",
		},
		{
			AgentID:     "architect",
			Decision:    map[string]any{"action": "roi_simulation", "monthly_savings_usd": 412.7},
			PayloadHash: "99aabbcc99aabbcc99aabbcc99aabbcc99aabbcc99aabbcc99aabbcc99aabbcc",
		},
		{
			AgentID:     "governor",
			Decision:    map[string]any{"action": "human_approval", "approved": true},
			PayloadHash: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		},
	}
}

func TestBuild_ShapesPerRole(t *testing.T) {
	out := Build(sampleChain())

	assert.Contains(t, out, `START(("Start"))`)
	assert.Contains(t, out, `detector_0(["DETECTOR\nanomaly_scan\n2 anomalie(s)"])`)
	assert.Contains(t, out, `jurist_1["JURIST\ncompliance_evaluation\ncompliant"]`)
	assert.Contains(t, out, `architect_2["ARCHITECT\nroi_simulation\n$413/mo"]`)
	assert.Contains(t, out, `governor_3{"GOVERNOR\nhuman_approval\nApproved"}`)
	assert.Contains(t, out, `END(("Complete"))`)
}

func TestBuild_EdgeLabelsCarrySignaturePrefix(t *testing.T) {
	out := Build(sampleChain())

	assert.Contains(t, out, `START -->|"sig:aabbccdd"| detector_0`)
	assert.Contains(t, out, `detector_0 -->|"sig:11223344"| jurist_1`)
	assert.Contains(t, out, `governor_3 --> END`)
}

func TestBuild_ClassAssignments(t *testing.T) {
	out := Build(sampleChain())

	assert.Contains(t, out, "classDef detector fill:#1e40af")
	assert.Contains(t, out, "classDef governor fill:#92400e")
	assert.Contains(t, out, "class detector_0 detector")
	assert.Contains(t, out, "class governor_3 governor")
}

func TestBuild_Deterministic(t *testing.T) {
	chain := sampleChain()
	first := Build(chain)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Build(chain))
	}
}

func TestBuild_EmptyChain(t *testing.T) {
	out := Build(nil)
	require.True(t, strings.HasPrefix(out, "graph TD"))
	assert.Contains(t, out, `START --> END(("Complete"))`)
}
