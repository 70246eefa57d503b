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

// Jurist enforces Cite-Before-Act, evaluates the detector's findings
// against the EU AI Act, and signs the compliance report. A citation
// failure routes the thread back to the detector for self-correction.
func (s *Steps) Jurist(ctx context.Context, sc graph.StepContext, st state.ExecutionState) (graph.StepResult, error) {
	_, span := s.tracer.Start(ctx, "jurist.step")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", sc.ThreadID))

	nowISO := s.clock().UTC().Format(time.RFC3339)

	if !nhi.Present(st.Citations) {
		s.logger.Warn("citation verification failed",
			"thread_id", sc.ThreadID, "iteration", st.IterationCount)
		return graph.Delta{Delta: state.Delta{
			CurrentPhase: state.PhaseCitationFailure,
			ErrorLog:     []string{"jurist: cite-before-act violation, no valid citations from detector"},
			UIEvents: []state.UIEvent{{Type: "neural_feed", Data: map[string]any{
				"agent":     "JURIST",
				"message":   "Citation verification FAILED, routing back to detector for self-correction.",
				"severity":  "high",
				"timestamp": nowISO,
			}}},
			Messages: []state.Message{{
				Role:    "assistant",
				Content: "[JURIST] Citation verification failed. Requesting detector re-scan with proper data citations.",
			}},
		}}, nil
	}

	if len(st.Anomalies) == 0 {
		return graph.Delta{Delta: state.Delta{
			CurrentPhase: state.PhaseJuristComplete,
			ComplianceReport: map[string]any{
				"status":              "compliant",
				"anomalies_evaluated": 0,
				"findings":            []map[string]any{},
				"timestamp":           nowISO,
			},
			UIEvents: []state.UIEvent{{Type: "neural_feed", Data: map[string]any{
				"agent":     "JURIST",
				"message":   "No anomalies to evaluate: system compliant by default.",
				"severity":  "low",
				"timestamp": nowISO,
			}}},
			Messages: []state.Message{{
				Role:    "assistant",
				Content: "[JURIST] No anomalies to evaluate. System is compliant.",
			}},
		}}, nil
	}

	transparency := s.registry.Query("", "transparency")
	oversight := s.registry.Query("", "human oversight")

	var referenced []string
	for i, a := range transparency.Articles {
		if i == 3 {
			break
		}
		referenced = append(referenced, a.Section)
	}
	for i, a := range oversight.Articles {
		if i == 2 {
			break
		}
		referenced = append(referenced, a.Section)
	}

	findings := make([]map[string]any, 0, len(st.Anomalies))
	allCompliant := true
	requiresHITL := false
	for _, anomaly := range st.Anomalies {
		desc := fmt.Sprintf("Autonomous detection of %s anomaly in building %s: %s",
			anomaly.Type, anomaly.BuildingID, anomaly.Metric)
		riskLevel := anomaly.Severity
		if riskLevel == "" {
			riskLevel = "high"
		}
		verdict := s.registry.CheckVector(desc, riskLevel)
		if !verdict.Compliant {
			allCompliant = false
		}
		if verdict.RequiresHumanOversight {
			requiresHITL = true
		}
		findings = append(findings, map[string]any{
			"anomaly":             asMap(anomaly),
			"compliance":          asMap(verdict),
			"articles_referenced": referenced,
		})
	}

	status := "compliant"
	if !allCompliant {
		status = "non_compliant"
	}
	report := map[string]any{
		"status":                   status,
		"requires_human_oversight": requiresHITL,
		"anomalies_evaluated":      len(st.Anomalies),
		"findings":                 findings,
		"reasoning": "All detected anomalies fall within high-risk AI system classification " +
			"under EU AI Act Articles 6, 9, 13, 14. Autonomous response actions require " +
			"human oversight (Article 14) before execution. Transparency obligations " +
			"(Article 13) satisfied through decision trace logging.",
		"timestamp": nowISO,
	}

	trace, err := s.sign("jurist", map[string]any{
		"action":              "compliance_evaluation",
		"status":              status,
		"anomalies_evaluated": len(st.Anomalies),
		"requires_hitl":       requiresHITL,
	})
	if err != nil {
		return nil, fmt.Errorf("sign compliance evaluation: %w", err)
	}

	verdictWord := "COMPLIANT"
	verdictSeverity := "medium"
	if !allCompliant {
		verdictWord = "NON-COMPLIANT"
		verdictSeverity = "high"
	}
	oversightWord := "not required"
	if requiresHITL {
		oversightWord = "required"
	}

	s.logger.Info("compliance evaluation complete",
		"thread_id", sc.ThreadID, "status", status,
		"anomalies_evaluated", len(st.Anomalies), "requires_hitl", requiresHITL)

	return graph.Delta{Delta: state.Delta{
		CurrentPhase:     state.PhaseJuristComplete,
		ComplianceReport: report,
		DecisionTraces:   []nhi.DecisionTrace{trace},
		UIEvents: []state.UIEvent{
			{Type: "neural_feed", Data: map[string]any{
				"agent": "JURIST",
				"message": fmt.Sprintf("Verified %d anomalie(s) against EU AI Act: %s. Human oversight %s.",
					len(st.Anomalies), verdictWord, oversightWord),
				"severity":  verdictSeverity,
				"timestamp": nowISO,
			}},
			{Type: "neural_feed", Data: map[string]any{
				"agent":     "JURIST",
				"message":   "Articles referenced: 6 (Classification), 9 (Risk Mgmt), 13 (Transparency), 14 (Human Oversight)",
				"severity":  "low",
				"timestamp": nowISO,
			}},
		},
		Messages: []state.Message{{
			Role: "assistant",
			Content: fmt.Sprintf(
				"[JURIST] Compliance evaluation complete: %s. Human oversight: %s. "+
					"Evaluated %d anomalie(s) against EU AI Act Articles 6, 9, 13, 14.",
				status, oversightWord, len(st.Anomalies)),
		}},
	}}, nil
}
