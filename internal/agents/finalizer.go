package agents

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ecoverify-ai/ecoverify/internal/bms"
	"github.com/ecoverify-ai/ecoverify/internal/edutech"
	"github.com/ecoverify-ai/ecoverify/internal/graph"
	"github.com/ecoverify-ai/ecoverify/internal/proofgraph"
	"github.com/ecoverify-ai/ecoverify/internal/risk"
	"github.com/ecoverify-ai/ecoverify/internal/state"
)

// Finalizer commits the approved action: submits drafted tickets,
// settles the A2A service fee, scores operational risk, runs the
// clinical energy audit and fintech checks, detects operator friction,
// and renders the proof graph. It aggregates rather than decides, so it
// signs nothing.
func (s *Steps) Finalizer(ctx context.Context, sc graph.StepContext, st state.ExecutionState) (graph.StepResult, error) {
	ctx, span := s.tracer.Start(ctx, "finalizer.step")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", sc.ThreadID))

	nowISO := s.clock().UTC().Format(time.RFC3339)
	monthlySavings := mapFloat(st.SimulationResult, "monthly_savings_usd")

	// Submit drafted tickets.
	submitted := make([]map[string]any, 0, len(st.JiraTickets))
	submittedIDs := make([]string, 0, len(st.JiraTickets))
	for _, draft := range st.JiraTickets {
		id := mapString(draft, "ticket_id")
		updated := draft
		if ticket, err := s.tickets.UpdateStatus(id, "In Progress"); err == nil {
			updated = asMap(ticket)
		} else {
			updated = cloneMap(draft)
			updated["status"] = "In Progress"
		}
		submitted = append(submitted, updated)
		submittedIDs = append(submittedIDs, id)
	}
	s.logger.Info("tickets submitted", "thread_id", sc.ThreadID, "tickets", submittedIDs)

	// A2A service fee settlement.
	var settlements []map[string]any
	fee := round4(monthlySavings * 0.001)
	if fee > 0 {
		receipt := s.settlements.Settle("architect", "governor", fee,
			fmt.Sprintf("A2A service fee for thread execution: %d anomalies resolved", len(st.Anomalies)))
		settlements = append(settlements, asMap(receipt))
	}

	// Operational risk score.
	score := risk.ComputeScore(st.Anomalies, complianceStatus(st), monthlySavings)
	riskScores := []map[string]any{asMap(score)}

	// Operator friction signals.
	var edutechHints []map[string]any
	signals := edutech.DetectFriction(edutech.Metrics{
		SelfCorrectionCount: max(st.IterationCount-1, 0),
		ErrorCount:          len(st.ErrorLog),
		TotalActions:        st.IterationCount,
		AgentPhase:          "finalize",
	})
	if len(signals) > 0 {
		edutechHints = asMaps(edutech.GenerateUpskill(signals))
	}

	// Clinical energy audit over the scanned telemetry.
	facilityID := s.buildingID
	if len(st.Anomalies) > 0 && st.Anomalies[0].BuildingID != "" {
		facilityID = st.Anomalies[0].BuildingID
	}
	audit := s.fhir.AuditEnergy(facilityID, energyReadings(st), "data_center", 60_000)
	for _, obs := range audit.Observations {
		s.fhir.PostObservation(ctx, obs)
	}
	fhirObservations := asMaps(audit.Observations)
	auditMap := asMap(audit)

	// Fintech compliance over the settled amount.
	var settlementAmount float64
	for _, settled := range settlements {
		settlementAmount += mapFloat(settled, "amount_usdc")
	}
	agentIDs := uniqueAgentIDs(st)
	genius := risk.CheckGeniusAct("settlement", settlementAmount, agentIDs)
	mica := risk.CheckMiCA("usdc_transfer", settlementAmount*0.92, true)
	complianceResults := []risk.ComplianceResult{genius, mica}
	s.logger.Info("fintech compliance checked",
		"thread_id", sc.ThreadID, "genius_compliant", genius.Compliant, "mica_compliant", mica.Compliant)

	mermaid := proofgraph.Build(st.DecisionTraces)

	summary := map[string]any{
		"anomalies_detected":    len(st.Anomalies),
		"compliance_status":     complianceStatus(st),
		"monthly_savings_usd":   monthlySavings,
		"npv_3yr_usd":           mapFloat(st.SimulationResult, "npv_3yr_usd"),
		"co2_tons_saved_annual": mapFloat(st.SimulationResult, "co2_tons_saved_annual"),
		"env_reduction_pct":     mapFloat(st.SimulationResult, "env_reduction_pct"),
		"tickets_submitted":     submittedIDs,
		"decision_traces_count": len(st.DecisionTraces),
		"governor_approved":     st.GovernorApproval,
		"fhir_audit_score":      audit.EnergyEfficiencyScore,
		"genius_act_compliant":  genius.Compliant,
		"mica_compliant":        mica.Compliant,
		"completed_at":          nowISO,
	}

	uiEvents := []state.UIEvent{
		{Type: "proof_graph", Data: map[string]any{
			"mermaid":   mermaid,
			"timestamp": nowISO,
		}},
		{Type: "neural_feed", Data: map[string]any{
			"agent": "SYSTEM",
			"message": fmt.Sprintf("Loop complete: %d anomalie(s) resolved, $%.0f/mo projected saving, %d ticket(s) submitted.",
				len(st.Anomalies), monthlySavings, len(submittedIDs)),
			"severity":  "low",
			"timestamp": nowISO,
		}},
		{Type: "execution_complete", Data: map[string]any{
			"summary":   summary,
			"timestamp": nowISO,
		}},
	}

	if len(settlements) > 0 {
		first := settlements[0]
		uiEvents = append(uiEvents,
			state.UIEvent{Type: "settlement_update", Data: map[string]any{
				"agent": "SYSTEM",
				"message": fmt.Sprintf("USDC settlement: $%.4f (%s)",
					mapFloat(first, "amount_usdc"), mapString(first, "status")),
				"settlement": first,
				"severity":   "low",
				"timestamp":  nowISO,
			}},
			state.UIEvent{Type: "neural_feed", Data: map[string]any{
				"agent": "SYSTEM",
				"message": fmt.Sprintf("A2A settlement: $%.4f USDC on %s",
					mapFloat(first, "amount_usdc"), mapString(first, "network")),
				"severity":  "low",
				"timestamp": nowISO,
			}},
		)
	}

	riskSeverity := "low"
	switch {
	case score.Score >= 70:
		riskSeverity = "high"
	case score.Score >= 40:
		riskSeverity = "medium"
	}
	feedSeverity := "low"
	if score.Score >= 40 {
		feedSeverity = "medium"
	}
	uiEvents = append(uiEvents,
		state.UIEvent{Type: "risk_alert", Data: map[string]any{
			"agent":      "SYSTEM",
			"message":    fmt.Sprintf("Risk score: %.1f/100 (%s)", score.Score, score.Category),
			"risk_score": riskScores[0],
			"severity":   riskSeverity,
			"timestamp":  nowISO,
		}},
		state.UIEvent{Type: "neural_feed", Data: map[string]any{
			"agent":     "SYSTEM",
			"message":   fmt.Sprintf("Risk Assessment: %.1f/100. %s", score.Score, score.Recommendation),
			"severity":  feedSeverity,
			"timestamp": nowISO,
		}},
	)

	for _, hint := range edutechHints {
		uiEvents = append(uiEvents, state.UIEvent{Type: "edutech_hint", Data: map[string]any{
			"agent":     "SYSTEM",
			"message":   "Upskill: " + mapString(hint, "topic"),
			"hint":      hint,
			"severity":  "low",
			"timestamp": nowISO,
		}})
	}

	auditSeverity := "low"
	if audit.EnergyEfficiencyScore < 60 {
		auditSeverity = "medium"
	}
	uiEvents = append(uiEvents,
		state.UIEvent{Type: "fhir_audit", Data: map[string]any{
			"agent": "FHIR",
			"message": fmt.Sprintf("FHIR Audit: %s scored %.1f/100, percentile %d%%",
				audit.FacilityID, audit.EnergyEfficiencyScore, audit.BenchmarkPercentile),
			"audit":     auditMap,
			"severity":  auditSeverity,
			"timestamp": nowISO,
		}},
		state.UIEvent{Type: "neural_feed", Data: map[string]any{
			"agent": "FHIR",
			"message": fmt.Sprintf("Clinical energy audit: %.0f/100 efficiency, %d recommendation(s)",
				audit.EnergyEfficiencyScore, len(audit.Recommendations)),
			"severity":  "low",
			"timestamp": nowISO,
		}},
	)

	for _, cr := range complianceResults {
		verdict := "PASS"
		severity := "low"
		if !cr.Compliant {
			verdict = "FLAG"
			severity = "high"
		}
		uiEvents = append(uiEvents, state.UIEvent{Type: "neural_feed", Data: map[string]any{
			"agent":     "FINTECH",
			"message":   fmt.Sprintf("%s %s: %s", verdict, cr.Framework, cr.Details),
			"severity":  severity,
			"timestamp": nowISO,
		}})
	}

	riskLabel := "N/A"
	if len(riskScores) > 0 {
		riskLabel = fmt.Sprintf("%.1f", score.Score)
	}

	return graph.Delta{Delta: state.Delta{
		CurrentPhase:     state.PhaseComplete,
		JiraTickets:      submitted,
		JiraTicketsSet:   true,
		Settlements:      settlements,
		RiskScores:       riskScores,
		EdutechHints:     edutechHints,
		FHIRObservations: fhirObservations,
		UIEvents:         uiEvents,
		Messages: []state.Message{{
			Role: "assistant",
			Content: fmt.Sprintf(
				"[SYSTEM] Execution complete. %d anomalie(s), $%.2f/mo saving, %d ticket(s) submitted, "+
					"%d settlement(s), risk=%s.",
				len(st.Anomalies), monthlySavings, len(submittedIDs), len(settlements), riskLabel),
		}},
	}}, nil
}

// energyReadings extracts up to 10 kWh samples for the clinical audit.
// The telemetry field holds a live bms.Telemetry in-process and a
// generic JSON object after a checkpoint round trip; both are handled.
// Without telemetry, readings are reconstructed from the first energy
// anomaly, then from a fixed profile.
func energyReadings(st state.ExecutionState) []float64 {
	if st.TelemetryData != nil {
		switch t := st.TelemetryData["energy"].(type) {
		case bms.Telemetry:
			out := make([]float64, 0, 10)
			for _, r := range t.Readings {
				out = append(out, r.Value)
				if len(out) == 10 {
					break
				}
			}
			if len(out) > 0 {
				return out
			}
		case map[string]any:
			if raw, ok := t["readings"].([]any); ok {
				out := make([]float64, 0, 10)
				for _, entry := range raw {
					if m, ok := entry.(map[string]any); ok {
						out = append(out, mapFloat(m, "value"))
					}
					if len(out) == 10 {
						break
					}
				}
				if len(out) > 0 {
					return out
				}
			}
		}
	}

	for _, a := range st.Anomalies {
		if a.Type == "energy_spike" && a.Peak > 0 {
			out := make([]float64, 0, 10)
			for i := 0; i < 8; i++ {
				out = append(out, a.Avg)
			}
			return append(out, a.Peak, a.Peak)
		}
	}

	return []float64{145, 138, 152, 180, 141}
}

func uniqueAgentIDs(st state.ExecutionState) []string {
	seen := make(map[string]bool)
	var out []string
	for _, trace := range st.DecisionTraces {
		if trace.AgentID == "" || seen[trace.AgentID] {
			continue
		}
		seen[trace.AgentID] = true
		out = append(out, trace.AgentID)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func round4(v float64) float64 { return math.Round(v*10_000) / 10_000 }
