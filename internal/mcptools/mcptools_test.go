package mcptools

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoverify-ai/ecoverify/internal/bms"
	"github.com/ecoverify-ai/ecoverify/internal/regulatory"
	"github.com/ecoverify-ai/ecoverify/internal/settlement"
	"github.com/ecoverify-ai/ecoverify/internal/tickets"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry, err := regulatory.NewRegistry()
	require.NoError(t, err)
	logger := slog.New(slog.DiscardHandler)
	return New(
		bms.NewSimulator(bms.WithSeed(7)),
		registry,
		tickets.NewTracker(),
		settlement.NewEngine("devnet", logger),
		logger,
		"test",
	)
}

func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	req := mcplib.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestHandleTelemetry(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleTelemetry(context.Background(),
		callRequest("ecoverify_telemetry", map[string]any{"building_id": "HQ-01", "metric": "energy", "hours": 24}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var data bms.Telemetry
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &data))
	assert.Len(t, data.Readings, 24)
	assert.Positive(t, data.Summary.Avg)
}

func TestHandleTelemetry_Validation(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleTelemetry(context.Background(),
		callRequest("ecoverify_telemetry", map[string]any{"metric": "energy"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleTelemetry(context.Background(),
		callRequest("ecoverify_telemetry", map[string]any{"building_id": "HQ-01", "metric": "steam"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleInjectAnomaly(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleInjectAnomaly(context.Background(),
		callRequest("ecoverify_inject_anomaly", map[string]any{"building_id": "HQ-01", "severity": 0.9}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	// The next energy read must carry the spike.
	data := s.telemetry.Energy("HQ-01", 24)
	assert.Positive(t, data.Summary.AnomalyCount)
}

func TestHandleComplianceCheck(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleComplianceCheck(context.Background(),
		callRequest("ecoverify_compliance_check", map[string]any{
			"action":     "automated facility maintenance dispatch",
			"risk_level": "unacceptable",
		}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var verdict regulatory.Verdict
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &verdict))
	assert.False(t, verdict.Compliant)
}

func TestHandleTicketLifecycle(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleTicketCreate(context.Background(),
		callRequest("ecoverify_ticket_create", map[string]any{
			"title":       "[Auto] Energy Spike - HQ-01",
			"priority":    "Critical",
			"building_id": "HQ-01",
		}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var ticket tickets.Ticket
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &ticket))
	assert.Regexp(t, `^ECO-\d{5}$`, ticket.TicketID)

	res, err = s.handleTicketsList(context.Background(),
		callRequest("ecoverify_tickets_list", map[string]any{"building_id": "HQ-01"}))
	require.NoError(t, err)
	var open []tickets.Ticket
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &open))
	require.Len(t, open, 1)
	assert.Equal(t, ticket.TicketID, open[0].TicketID)
}

func TestHandleSettlements_FilterByAgent(t *testing.T) {
	s := newTestServer(t)
	s.settlements.Settle("architect", "governor", 12.5, "service fee")
	s.settlements.Settle("detector", "jurist", 1.0, "scan fee")

	res, err := s.handleSettlements(context.Background(),
		callRequest("ecoverify_settlements", map[string]any{"agent_id": "architect"}))
	require.NoError(t, err)

	var receipts []settlement.Receipt
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &receipts))
	require.Len(t, receipts, 1)
	assert.Equal(t, "architect", receipts[0].FromAgent)
}
