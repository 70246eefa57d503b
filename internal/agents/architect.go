package agents

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ecoverify-ai/ecoverify/internal/graph"
	"github.com/ecoverify-ai/ecoverify/internal/nhi"
	"github.com/ecoverify-ai/ecoverify/internal/state"
	"github.com/ecoverify-ai/ecoverify/internal/tickets"
)

// Financial and environmental parameters for ROI projection.
const (
	costPerKWh       = 0.18
	costPerGallon    = 0.008
	discountRate     = 0.08
	monthlyHours     = 730
	campusBuildings  = 3
	co2TonsPerKWh    = 0.000417
	waterGalPerKWh   = 0.5
	campusFixCostUSD = 15_000
)

// Architect projects ROI for the compliance-cleared anomalies, renders
// the digital-twin scene, drafts a maintenance ticket, and signs the
// simulation. A governor rejection tightens the estimate by 10% per
// pass.
func (s *Steps) Architect(ctx context.Context, sc graph.StepContext, st state.ExecutionState) (graph.StepResult, error) {
	_, span := s.tracer.Start(ctx, "architect.step")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", sc.ThreadID))

	nowISO := s.clock().UTC().Format(time.RFC3339)

	roiAdj := 1.0
	if st.GovernorApproval != nil && !*st.GovernorApproval && st.SimulationResult != nil {
		prev := mapFloat(st.SimulationResult, "roi_adjustment")
		if prev == 0 {
			prev = 1.0
		}
		roiAdj = prev * 0.9
	}

	roi := computeROI(st.Anomalies, roiAdj)
	scene := buildScene(sc.ThreadID, st.IterationCount, len(st.Anomalies))

	var drafted []map[string]any
	if len(st.Anomalies) > 0 {
		primary := st.Anomalies[0]
		ticket := s.tickets.Create(
			fmt.Sprintf("[Auto] %s - %s", titleCase(primary.Type), primary.BuildingID),
			fmt.Sprintf("Anomaly detected: %s.\nEstimated monthly saving: $%.2f.\n3-year NPV: $%.2f.\n\n"+
				"Auto-generated by the EcoVerify architect agent.",
				primary.Metric, mapFloat(roi, "monthly_savings_usd"), mapFloat(roi, "npv_3yr_usd")),
			tickets.PriorityForSeverity(primary.Severity),
			"auto",
			primary.BuildingID,
		)
		drafted = append(drafted, asMap(ticket))
	}

	trace, err := s.sign("architect", map[string]any{
		"action":                "roi_simulation",
		"monthly_savings_usd":   mapFloat(roi, "monthly_savings_usd"),
		"npv_3yr":               mapFloat(roi, "npv_3yr_usd"),
		"payback_months":        mapFloat(roi, "payback_months"),
		"co2_tons_saved_annual": mapFloat(roi, "co2_tons_saved_annual"),
		"env_reduction_pct":     mapFloat(roi, "env_reduction_pct"),
		"campus_buildings":      campusBuildings,
		"tickets_drafted":       len(drafted),
	})
	if err != nil {
		return nil, fmt.Errorf("sign roi simulation: %w", err)
	}

	uiEvents := []state.UIEvent{
		{Type: "neural_feed", Data: map[string]any{
			"agent": "ARCHITECT",
			"message": fmt.Sprintf(
				"ROI Simulation: +$%.0f/mo across %d buildings (NPV 3yr: $%.0f). "+
					"CO2 reduced: %.1f tons/yr (%.1f%%). Payback: %.1f mo.",
				mapFloat(roi, "monthly_savings_usd"), campusBuildings, mapFloat(roi, "npv_3yr_usd"),
				mapFloat(roi, "co2_tons_saved_annual"), mapFloat(roi, "env_reduction_pct"),
				mapFloat(roi, "payback_months")),
			"severity":  "low",
			"timestamp": nowISO,
		}},
		{Type: "3d_update", Data: map[string]any{
			"payload":   scene,
			"timestamp": nowISO,
		}},
	}
	if len(drafted) > 0 {
		uiEvents = append(uiEvents, state.UIEvent{Type: "neural_feed", Data: map[string]any{
			"agent":     "ARCHITECT",
			"message":   "Maintenance ticket drafted: " + mapString(drafted[0], "ticket_id"),
			"severity":  "low",
			"timestamp": nowISO,
		}})
	}

	s.logger.Info("roi simulation complete",
		"thread_id", sc.ThreadID,
		"monthly_savings_usd", mapFloat(roi, "monthly_savings_usd"),
		"roi_adjustment", roiAdj, "tickets_drafted", len(drafted))

	return graph.Delta{Delta: state.Delta{
		CurrentPhase:     state.PhaseArchitectComplete,
		SimulationResult: roi,
		JiraTickets:      drafted,
		JiraTicketsSet:   true,
		DecisionTraces:   []nhi.DecisionTrace{trace},
		UIEvents:         uiEvents,
		Messages: []state.Message{{
			Role: "assistant",
			Content: fmt.Sprintf(
				"[ARCHITECT] ROI simulation complete: $%.2f/mo, NPV 3yr $%.2f. %d ticket(s) drafted.",
				mapFloat(roi, "monthly_savings_usd"), mapFloat(roi, "npv_3yr_usd"), len(drafted)),
		}},
	}}, nil
}

// computeROI projects savings and carbon impact from resolving the
// anomaly set, scaled across the campus and by the governor's
// adjustment factor.
func computeROI(anomalies []state.Anomaly, roiAdjustment float64) map[string]any {
	var totalMonthly, totalCO2, totalWater float64
	details := make([]map[string]any, 0, len(anomalies))

	for _, a := range anomalies {
		var monthly, co2, water float64
		switch a.Type {
		case "energy_spike":
			excessKWh := a.Peak - a.Avg
			recoverable := excessKWh * monthlyHours * 0.35
			monthly = recoverable * costPerKWh * campusBuildings
			co2 = recoverable * co2TonsPerKWh * campusBuildings
			water = recoverable * waterGalPerKWh * campusBuildings
		case "water_spike":
			excessGal := a.Peak - a.Avg
			monthly = excessGal * monthlyHours * costPerGallon * 0.30 * campusBuildings
			water = excessGal * monthlyHours * 0.30 * campusBuildings
		default:
			monthly = 800 * campusBuildings
			co2 = 1.5
			water = 500
		}

		monthly *= roiAdjustment
		totalMonthly += monthly
		totalCO2 += co2
		totalWater += water
		details = append(details, map[string]any{
			"anomaly_type":       a.Type,
			"monthly_saving_usd": round2(monthly),
			"co2_tons_saved":     round3(co2),
		})
	}

	baselineAnnualCO2 := 100.0
	if totalCO2 > 0 {
		baselineAnnualCO2 = totalCO2 * 12 / 0.30
	}
	envReductionPct := round1(totalCO2 * 12 / math.Max(baselineAnnualCO2, 1) * 100)

	annual := totalMonthly * 12
	var npv float64
	for yr := 1; yr <= 3; yr++ {
		npv += annual / math.Pow(1+discountRate, float64(yr))
	}
	paybackMonths := round1(campusFixCostUSD / math.Max(totalMonthly, 1))

	return map[string]any{
		"monthly_savings_usd":         round2(totalMonthly),
		"annual_savings_usd":          round2(annual),
		"npv_3yr_usd":                 round2(npv),
		"payback_months":              paybackMonths,
		"roi_adjustment":              roiAdjustment,
		"co2_tons_saved_monthly":      round3(totalCO2),
		"co2_tons_saved_annual":       round2(totalCO2 * 12),
		"water_gallons_saved_monthly": math.Round(totalWater),
		"env_reduction_pct":           envReductionPct,
		"campus_buildings":            campusBuildings,
		"details":                     details,
	}
}

// buildScene renders the 4x5 rack grid for the digital twin. The rack
// energy levels are seeded from (threadID, iteration) so re-simulation
// after a rejection redraws the scene while status polls stay stable.
func buildScene(threadID string, iteration, anomalyCount int) map[string]any {
	h := fnv.New64a()
	h.Write([]byte(threadID))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(iteration)))

	nodes := make([]map[string]any, 0, 20)
	for row := 0; row < 4; row++ {
		for col := 0; col < 5; col++ {
			energyLevel := 0.3 + 0.4*rng.Float64()
			status := "normal"
			color := "#00ff88"
			if anomalyCount > 0 && (row*5+col)%7 < anomalyCount {
				energyLevel = 0.8 + 0.2*rng.Float64()
				status = "anomaly"
				color = "#ff3366"
			}
			nodes = append(nodes, map[string]any{
				"id": fmt.Sprintf("rack-%d-%d", row, col),
				"position": map[string]any{
					"x": (float64(col) - 2) * 3.0,
					"y": 0.0,
					"z": (float64(row) - 1.5) * 3.0,
				},
				"energy_level": round3(energyLevel),
				"status":       status,
				"color":        color,
			})
		}
	}

	var connections []map[string]any
	for row := 0; row < 4; row++ {
		for col := 0; col < 5; col++ {
			if col < 4 {
				connections = append(connections, map[string]any{
					"from": fmt.Sprintf("rack-%d-%d", row, col),
					"to":   fmt.Sprintf("rack-%d-%d", row, col+1),
				})
			}
			if row < 3 {
				connections = append(connections, map[string]any{
					"from": fmt.Sprintf("rack-%d-%d", row, col),
					"to":   fmt.Sprintf("rack-%d-%d", row+1, col),
				})
			}
		}
	}

	return map[string]any{"nodes": nodes, "connections": connections}
}

func titleCase(snake string) string {
	words := strings.Split(snake, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
