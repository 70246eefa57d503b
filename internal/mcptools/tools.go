package mcptools

import (
	"context"
	"fmt"

	"github.com/ecoverify-ai/ecoverify/internal/bms"
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerTools() {
	// ecoverify_telemetry: read a consumption window from the BMS.
	s.mcpServer.AddTool(
		mcplib.NewTool("ecoverify_telemetry",
			mcplib.WithDescription(`Read building telemetry from the BMS simulator.

Returns hourly readings plus a summary (average, peak, anomaly count)
for one metric over the requested window. Anomalies are readings far
above the building's baseline consumption.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("building_id",
				mcplib.Description("Building identifier, e.g. HQ-01"),
				mcplib.Required(),
			),
			mcplib.WithString("metric",
				mcplib.Description("Which meter to read: energy (kWh) or water (gallons)"),
				mcplib.Enum("energy", "water"),
			),
			mcplib.WithNumber("hours",
				mcplib.Description("Window length in hours"),
				mcplib.Min(1),
				mcplib.Max(168),
				mcplib.DefaultNumber(24),
			),
		),
		s.handleTelemetry,
	)

	// ecoverify_inject_anomaly: plant a spike for the next scan.
	s.mcpServer.AddTool(
		mcplib.NewTool("ecoverify_inject_anomaly",
			mcplib.WithDescription(`Inject a consumption anomaly into the BMS simulator.

The next telemetry read for the building will contain an energy spike
of the given severity (and a correlated water spike at reduced
severity). Use this to exercise the detection loop on demand.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("building_id",
				mcplib.Description("Building identifier, e.g. HQ-01"),
				mcplib.Required(),
			),
			mcplib.WithNumber("severity",
				mcplib.Description("Spike severity from 0.0 (none) to 1.0 (extreme)"),
				mcplib.Min(0),
				mcplib.Max(1),
				mcplib.DefaultNumber(0.8),
			),
		),
		s.handleInjectAnomaly,
	)

	// ecoverify_regulation_query: search the embedded EU AI Act articles.
	s.mcpServer.AddTool(
		mcplib.NewTool("ecoverify_regulation_query",
			mcplib.WithDescription(`Search the embedded EU AI Act article set.

Filter by section number, keyword, or both. Returns matching articles
with their text. Use before taking a state-mutating action to cite the
obligations that apply.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("section",
				mcplib.Description("Article/section number, e.g. 13. Empty matches all."),
			),
			mcplib.WithString("keyword",
				mcplib.Description("Keyword to match in title or text, e.g. transparency. Empty matches all."),
			),
		),
		s.handleRegulationQuery,
	)

	// ecoverify_compliance_check: evaluate an action against the Act.
	s.mcpServer.AddTool(
		mcplib.NewTool("ecoverify_compliance_check",
			mcplib.WithDescription(`Evaluate a proposed action against the EU AI Act.

Returns a verdict: compliant or not, whether human oversight and
transparency are required, the relevant articles, and reasoning.
risk_level follows the Act's tiers.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("action",
				mcplib.Description("Description of the action to evaluate"),
				mcplib.Required(),
			),
			mcplib.WithString("risk_level",
				mcplib.Description("Risk tier of the acting system"),
				mcplib.Enum("minimal", "limited", "high", "unacceptable"),
				mcplib.Required(),
			),
		),
		s.handleComplianceCheck,
	)

	// ecoverify_ticket_create: draft a maintenance ticket.
	s.mcpServer.AddTool(
		mcplib.NewTool("ecoverify_ticket_create",
			mcplib.WithDescription(`Create a maintenance ticket for a detected issue.

Tickets get an ECO-NNNNN id and start in Open status. Priority should
reflect anomaly severity: Critical for high, High for medium, Medium
for low.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("title", mcplib.Description("Ticket title"), mcplib.Required()),
			mcplib.WithString("description", mcplib.Description("What was found and what should be done")),
			mcplib.WithString("priority",
				mcplib.Description("Ticket priority"),
				mcplib.Enum("Critical", "High", "Medium", "Low"),
				mcplib.DefaultString("Medium"),
			),
			mcplib.WithString("building_id", mcplib.Description("Building the ticket concerns"), mcplib.Required()),
		),
		s.handleTicketCreate,
	)

	// ecoverify_tickets_list: open tickets for a building.
	s.mcpServer.AddTool(
		mcplib.NewTool("ecoverify_tickets_list",
			mcplib.WithDescription("List open maintenance tickets, optionally filtered by building."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("building_id",
				mcplib.Description("Building filter. Empty lists all open tickets."),
			),
		),
		s.handleTicketsList,
	)

	// ecoverify_settlements: the agent-to-agent payment ledger.
	s.mcpServer.AddTool(
		mcplib.NewTool("ecoverify_settlements",
			mcplib.WithDescription(`Read the agent-to-agent settlement ledger.

Returns receipts for simulated USDC transfers between agents,
optionally filtered to one agent's sent and received payments.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent_id",
				mcplib.Description("Agent filter, e.g. architect. Empty returns the full ledger."),
			),
		),
		s.handleSettlements,
	)
}

func (s *Server) handleTelemetry(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	buildingID := request.GetString("building_id", "")
	if buildingID == "" {
		return errorResult("building_id is required"), nil
	}
	metric := request.GetString("metric", "energy")
	hours := request.GetInt("hours", 24)

	var data bms.Telemetry
	switch metric {
	case "energy":
		data = s.telemetry.Energy(buildingID, hours)
	case "water":
		data = s.telemetry.Water(buildingID, hours)
	default:
		return errorResult(fmt.Sprintf("unknown metric %q (want energy or water)", metric)), nil
	}
	return jsonResult(data), nil
}

func (s *Server) handleInjectAnomaly(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	buildingID := request.GetString("building_id", "")
	if buildingID == "" {
		return errorResult("building_id is required"), nil
	}
	severity := request.GetFloat("severity", 0.8)
	if severity < 0 || severity > 1 {
		return errorResult("severity must be between 0.0 and 1.0"), nil
	}

	receipt := s.telemetry.Inject(buildingID, severity)
	s.logger.Info("mcp: anomaly injected", "building_id", buildingID, "severity", severity)
	return jsonResult(receipt), nil
}

func (s *Server) handleRegulationQuery(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	section := request.GetString("section", "")
	keyword := request.GetString("keyword", "")
	return jsonResult(s.registry.Query(section, keyword)), nil
}

func (s *Server) handleComplianceCheck(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	action := request.GetString("action", "")
	if action == "" {
		return errorResult("action is required"), nil
	}
	riskLevel := request.GetString("risk_level", "")
	if riskLevel == "" {
		return errorResult("risk_level is required"), nil
	}
	return jsonResult(s.registry.CheckVector(action, riskLevel)), nil
}

func (s *Server) handleTicketCreate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	title := request.GetString("title", "")
	if title == "" {
		return errorResult("title is required"), nil
	}
	buildingID := request.GetString("building_id", "")
	if buildingID == "" {
		return errorResult("building_id is required"), nil
	}
	description := request.GetString("description", "")
	priority := request.GetString("priority", "Medium")

	ticket := s.tickets.Create(title, description, priority, "facilities-team", buildingID)
	s.logger.Info("mcp: ticket created", "ticket_id", ticket.TicketID, "priority", priority)
	return jsonResult(ticket), nil
}

func (s *Server) handleTicketsList(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	buildingID := request.GetString("building_id", "")
	return jsonResult(s.tickets.ListOpen(buildingID)), nil
}

func (s *Server) handleSettlements(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if agentID := request.GetString("agent_id", ""); agentID != "" {
		return jsonResult(s.settlements.ByAgent(agentID)), nil
	}
	return jsonResult(s.settlements.Ledger()), nil
}
