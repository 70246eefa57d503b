package agents

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ecoverify-ai/ecoverify/internal/graph"
	"github.com/ecoverify-ai/ecoverify/internal/nhi"
	"github.com/ecoverify-ai/ecoverify/internal/state"
)

// Detector scans the building's energy and water telemetry, cites the
// raw data before drawing conclusions, flags anomalies, and signs the
// scan result.
func (s *Steps) Detector(ctx context.Context, sc graph.StepContext, st state.ExecutionState) (graph.StepResult, error) {
	ctx, span := s.tracer.Start(ctx, "detector.step")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", sc.ThreadID))

	now := s.clock().UTC()
	nowISO := now.Format(time.RFC3339)
	buildingID := s.buildingID

	energy := s.telemetry.Energy(buildingID, 24)
	water := s.telemetry.Water(buildingID, 24)

	// Cite-Before-Act: commit to the exact telemetry consulted before
	// any finding is recorded.
	energyCite, err := nhi.Cite(
		"bms:energy:"+buildingID,
		energy,
		fmt.Sprintf("Energy avg=%.2f kWh, peak=%.2f kWh", energy.Summary.Avg, energy.Summary.Peak),
	)
	if err != nil {
		return nil, fmt.Errorf("cite energy telemetry: %w", err)
	}
	waterCite, err := nhi.Cite(
		"bms:water:"+buildingID,
		water,
		fmt.Sprintf("Water avg=%.2f gal, peak=%.2f gal", water.Summary.Avg, water.Summary.Peak),
	)
	if err != nil {
		return nil, fmt.Errorf("cite water telemetry: %w", err)
	}

	var anomalies []state.Anomaly
	if energy.Summary.AnomalyCount > 0 {
		pctAbove := pctAboveAverage(energy.Summary.Peak, energy.Summary.Avg)
		severity := "medium"
		if pctAbove > 20 {
			severity = "high"
		}
		anomalies = append(anomalies, state.Anomaly{
			Type:       "energy_spike",
			BuildingID: buildingID,
			Severity:   severity,
			Metric:     fmt.Sprintf("+%.1f%% above average", pctAbove),
			Peak:       energy.Summary.Peak,
			Avg:        energy.Summary.Avg,
			DetectedAt: now,
		})
	}
	if water.Summary.AnomalyCount > 0 {
		pctAbove := pctAboveAverage(water.Summary.Peak, water.Summary.Avg)
		severity := "medium"
		if pctAbove > 25 {
			severity = "high"
		}
		anomalies = append(anomalies, state.Anomaly{
			Type:       "water_spike",
			BuildingID: buildingID,
			Severity:   severity,
			Metric:     fmt.Sprintf("+%.1f%% above average", pctAbove),
			Peak:       water.Summary.Peak,
			Avg:        water.Summary.Avg,
			DetectedAt: now,
		})
	}

	trace, err := s.sign("detector", map[string]any{
		"action":          "anomaly_scan",
		"building_id":     buildingID,
		"anomalies_found": len(anomalies),
		"energy_summary": map[string]any{
			"avg_kwh":       energy.Summary.Avg,
			"peak_kwh":      energy.Summary.Peak,
			"anomaly_count": energy.Summary.AnomalyCount,
		},
		"water_summary": map[string]any{
			"avg_gallons":   water.Summary.Avg,
			"peak_gallons":  water.Summary.Peak,
			"anomaly_count": water.Summary.AnomalyCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sign anomaly scan: %w", err)
	}

	var uiEvents []state.UIEvent
	if len(anomalies) > 0 {
		primary := anomalies[0]
		message := fmt.Sprintf("Energy spike detected (%s) in %s", primary.Metric, buildingID)
		if s.llm.Enabled() {
			prompt := fmt.Sprintf(
				"Summarise this energy anomaly in one professional sentence for a dashboard feed: "+
					"Building %s, %s, %s, severity=%s, peak=%.2f kWh, avg=%.2f kWh.",
				buildingID, primary.Type, primary.Metric, primary.Severity,
				energy.Summary.Peak, energy.Summary.Avg)
			message = s.llm.EnrichSummary(ctx, prompt, message)
		}
		uiEvents = append(uiEvents, state.UIEvent{Type: "neural_feed", Data: map[string]any{
			"agent":     "DETECTOR",
			"message":   message,
			"severity":  primary.Severity,
			"timestamp": nowISO,
		}})
	} else {
		uiEvents = append(uiEvents, state.UIEvent{Type: "neural_feed", Data: map[string]any{
			"agent":     "DETECTOR",
			"message":   fmt.Sprintf("Telemetry nominal for %s: no anomalies detected.", buildingID),
			"severity":  "low",
			"timestamp": nowISO,
		}})
	}

	s.logger.Info("anomaly scan complete",
		"thread_id", sc.ThreadID, "building_id", buildingID,
		"anomalies", len(anomalies), "iteration", st.IterationCount+1)

	return graph.Delta{Delta: state.Delta{
		TelemetryData:  map[string]any{"energy": energy, "water": water},
		Anomalies:      anomalies,
		AnomaliesSet:   true,
		Citations:      []nhi.CitationBlock{energyCite, waterCite},
		CitationsSet:   true,
		DecisionTraces: []nhi.DecisionTrace{trace},
		CurrentPhase:   state.PhaseDetectorComplete,
		IterationCount: state.IntPtr(st.IterationCount + 1),
		UIEvents:       uiEvents,
		Messages: []state.Message{{
			Role: "assistant",
			Content: fmt.Sprintf(
				"[DETECTOR] Scanned %s: %d anomalie(s) detected. Energy peak=%.2f kWh, Water peak=%.2f gal.",
				buildingID, len(anomalies), energy.Summary.Peak, water.Summary.Peak),
		}},
	}}, nil
}

func pctAboveAverage(peak, avg float64) float64 {
	pct := (peak - avg) / math.Max(avg, 1) * 100
	return math.Round(pct*10) / 10
}
