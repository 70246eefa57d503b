// Package media infers operator intent from dashboard interaction
// telemetry and produces a personalized dashboard configuration.
package media

import (
	"sort"
	"time"
)

// InteractionTelemetry is raw click and dwell data from the frontend.
type InteractionTelemetry struct {
	PanelClicks     map[string]int     `json:"panel_clicks"`
	DwellTimes      map[string]float64 `json:"dwell_times"`
	AnomaliesViewed int                `json:"anomalies_viewed"`
	ApprovalLatency float64            `json:"approval_latency_s"`
}

// UserIntent is the inferred operating posture.
type UserIntent struct {
	PrimaryFocus    string    `json:"primary_focus"`
	DetailLevel     string    `json:"detail_level"`
	Urgency         string    `json:"urgency"`
	PreferredPanels []string  `json:"preferred_panels"`
	Timestamp       time.Time `json:"timestamp"`
}

// DashboardConfig is a personalized layout directive.
type DashboardConfig struct {
	PanelOrder           []string `json:"panel_order"`
	Emphasis             string   `json:"emphasis"`
	DetailLevel          string   `json:"detail_level"`
	AutoExpandProofGraph bool     `json:"auto_expand_proof_graph"`
	HighlightAnomalies   bool     `json:"highlight_anomalies"`
	ShowSettlements      bool     `json:"show_settlements"`
	ThemeAccent          string   `json:"theme_accent"`
}

var focusMap = map[string]string{
	"digital_twin":   "energy",
	"neural_feed":    "technical",
	"metrics":        "financial",
	"proof_graph":    "compliance",
	"transactions":   "financial",
	"governor_panel": "compliance",
}

// AnalyzeIntent infers focus from dwell times, detail level from click
// volume, and urgency from anomaly views and approval latency.
func AnalyzeIntent(t InteractionTelemetry) UserIntent {
	primaryFocus := "overview"
	if len(t.DwellTimes) > 0 {
		topPanel, topDwell := "", -1.0
		for panel, dwell := range t.DwellTimes {
			if dwell > topDwell || (dwell == topDwell && panel < topPanel) {
				topPanel, topDwell = panel, dwell
			}
		}
		if f, ok := focusMap[topPanel]; ok {
			primaryFocus = f
		}
	}

	totalClicks := 0
	for _, n := range t.PanelClicks {
		totalClicks += n
	}
	detailLevel := "minimal"
	switch {
	case totalClicks > 20:
		detailLevel = "expert"
	case totalClicks > 10:
		detailLevel = "detailed"
	case totalClicks > 3:
		detailLevel = "standard"
	}

	urgency := "low"
	switch {
	case t.AnomaliesViewed > 3 || t.ApprovalLatency > 120:
		urgency = "high"
	case t.AnomaliesViewed > 1:
		urgency = "normal"
	}

	preferred := []string{"digital_twin", "neural_feed", "metrics"}
	if len(t.PanelClicks) > 0 {
		panels := make([]string, 0, len(t.PanelClicks))
		for p := range t.PanelClicks {
			panels = append(panels, p)
		}
		sort.Slice(panels, func(i, j int) bool {
			if t.PanelClicks[panels[i]] != t.PanelClicks[panels[j]] {
				return t.PanelClicks[panels[i]] > t.PanelClicks[panels[j]]
			}
			return panels[i] < panels[j]
		})
		if len(panels) > 5 {
			panels = panels[:5]
		}
		preferred = panels
	}

	return UserIntent{
		PrimaryFocus:    primaryFocus,
		DetailLevel:     detailLevel,
		Urgency:         urgency,
		PreferredPanels: preferred,
		Timestamp:       time.Now().UTC(),
	}
}

var panelPriority = map[string][]string{
	"compliance": {"proof_graph", "neural_feed", "metrics", "digital_twin", "transactions", "volume_chart", "recent_events"},
	"energy":     {"digital_twin", "metrics", "neural_feed", "volume_chart", "recent_events", "proof_graph", "transactions"},
	"financial":  {"metrics", "transactions", "volume_chart", "digital_twin", "neural_feed", "recent_events", "proof_graph"},
	"technical":  {"neural_feed", "digital_twin", "proof_graph", "metrics", "volume_chart", "recent_events", "transactions"},
	"balanced":   {"metrics", "digital_twin", "neural_feed", "volume_chart", "recent_events", "transactions", "proof_graph"},
}

var accentMap = map[string]string{
	"compliance": "#a855f7",
	"energy":     "#00ff88",
	"financial":  "#f59e0b",
	"technical":  "#3b82f6",
	"balanced":   "#00ff88",
}

// BuildDashboardConfig turns an inferred intent into a concrete layout.
func BuildDashboardConfig(intent UserIntent) DashboardConfig {
	emphasis := intent.PrimaryFocus
	if emphasis == "overview" {
		emphasis = "balanced"
	}
	order, ok := panelPriority[emphasis]
	if !ok {
		order = panelPriority["balanced"]
	}
	accent, ok := accentMap[emphasis]
	if !ok {
		accent = "#00ff88"
	}
	return DashboardConfig{
		PanelOrder:           order,
		Emphasis:             emphasis,
		DetailLevel:          intent.DetailLevel,
		AutoExpandProofGraph: emphasis == "compliance",
		HighlightAnomalies:   intent.Urgency == "high" || intent.Urgency == "critical",
		ShowSettlements:      emphasis == "financial" || emphasis == "balanced",
		ThemeAccent:          accent,
	}
}
