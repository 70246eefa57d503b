package agents

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ecoverify-ai/ecoverify/internal/graph"
	"github.com/ecoverify-ai/ecoverify/internal/nhi"
	"github.com/ecoverify-ai/ecoverify/internal/state"
)

// Governor is the mandatory human breakpoint. On first entry it
// suspends the thread with an approval request; once the operator
// responds it signs the verdict and routes to the finalizer or back to
// the architect for re-simulation.
func (s *Steps) Governor(ctx context.Context, sc graph.StepContext, st state.ExecutionState) (graph.StepResult, error) {
	_, span := s.tracer.Start(ctx, "governor.step")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", sc.ThreadID))

	nowISO := s.clock().UTC().Format(time.RFC3339)
	simulation := st.SimulationResult
	if simulation == nil {
		simulation = map[string]any{}
	}

	if sc.Human == nil {
		actionSummary := fmt.Sprintf(
			"Approve maintenance action for %d anomalie(s). Estimated monthly saving: $%.2f. "+
				"CO2 reduction: %.1f tons/yr (%.1f%%). Compliance status: %s. Tickets to submit: %d.",
			len(st.Anomalies),
			mapFloat(simulation, "monthly_savings_usd"),
			mapFloat(simulation, "co2_tons_saved_annual"),
			mapFloat(simulation, "env_reduction_pct"),
			complianceStatus(st),
			len(st.JiraTickets))

		preEvents := []state.UIEvent{
			{Type: "governor_panel", Data: map[string]any{
				"action_summary":        actionSummary,
				"estimated_roi":         mapFloat(simulation, "monthly_savings_usd"),
				"npv_3yr":               mapFloat(simulation, "npv_3yr_usd"),
				"payback_months":        mapFloat(simulation, "payback_months"),
				"co2_tons_saved_annual": mapFloat(simulation, "co2_tons_saved_annual"),
				"env_reduction_pct":     mapFloat(simulation, "env_reduction_pct"),
				"campus_buildings":      mapFloat(simulation, "campus_buildings"),
				"requires_approval":     true,
				"timestamp":             nowISO,
			}},
			{Type: "neural_feed", Data: map[string]any{
				"agent":     "GOVERNOR",
				"message":   "Awaiting human approval for state-mutating action.",
				"severity":  "medium",
				"timestamp": nowISO,
			}},
		}

		s.logger.Info("awaiting human approval",
			"thread_id", sc.ThreadID,
			"estimated_roi", mapFloat(simulation, "monthly_savings_usd"))

		return graph.Suspend{Payload: map[string]any{
			"action_summary":    actionSummary,
			"estimated_roi":     mapFloat(simulation, "monthly_savings_usd"),
			"requires_approval": true,
			"ui_events":         preEvents,
		}}, nil
	}

	approved := sc.Human.Approved
	roiAdjustment := sc.Human.ROIAdjustment

	trace, err := s.sign("governor", map[string]any{
		"action":         "human_approval",
		"approved":       approved,
		"roi_adjustment": roiAdjustment,
	})
	if err != nil {
		return nil, fmt.Errorf("sign human approval: %w", err)
	}

	if approved {
		s.logger.Info("action approved", "thread_id", sc.ThreadID)
		return graph.Command{Goto: "finalizer", Delta: state.Delta{
			GovernorApproval: state.BoolPtr(true),
			GovernorSet:      true,
			CurrentPhase:     state.PhaseGovernorApproved,
			DecisionTraces:   []nhi.DecisionTrace{trace},
			UIEvents: []state.UIEvent{{Type: "neural_feed", Data: map[string]any{
				"agent":     "GOVERNOR",
				"message":   "Action APPROVED by human operator.",
				"severity":  "low",
				"timestamp": nowISO,
			}}},
			Messages: []state.Message{{
				Role:    "assistant",
				Content: "[GOVERNOR] Human operator approved the action. Proceeding to finalisation.",
			}},
		}}, nil
	}

	// Rejection: carry the operator's adjustment into the simulation
	// result so the architect compounds from it.
	adjusted := make(map[string]any, len(simulation)+1)
	for k, v := range simulation {
		adjusted[k] = v
	}
	adjusted["roi_adjustment"] = roiAdjustment

	s.logger.Info("action rejected",
		"thread_id", sc.ThreadID, "roi_adjustment", roiAdjustment)
	return graph.Command{Goto: "architect", Delta: state.Delta{
		GovernorApproval: state.BoolPtr(false),
		GovernorSet:      true,
		CurrentPhase:     state.PhaseGovernorRejected,
		DecisionTraces:   []nhi.DecisionTrace{trace},
		SimulationResult: adjusted,
		UIEvents: []state.UIEvent{{Type: "neural_feed", Data: map[string]any{
			"agent":     "GOVERNOR",
			"message":   fmt.Sprintf("Action REJECTED. Re-simulating with ROI adjustment x%.2f.", roiAdjustment),
			"severity":  "medium",
			"timestamp": nowISO,
		}}},
		Messages: []state.Message{{
			Role:    "assistant",
			Content: fmt.Sprintf("[GOVERNOR] Action rejected. Re-routing to architect with ROI adjustment %.2f.", roiAdjustment),
		}},
	}}, nil
}

func complianceStatus(st state.ExecutionState) string {
	if st.ComplianceReport == nil {
		return "unknown"
	}
	if v := mapString(st.ComplianceReport, "status"); v != "" {
		return v
	}
	return "unknown"
}
