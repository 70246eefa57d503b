package edutech

import "time"

// UpskillRecommendation is one contextual micro-lesson.
type UpskillRecommendation struct {
	Topic            string    `json:"topic"`
	Urgency          string    `json:"urgency"`
	Content          string    `json:"content"`
	RelatedArticles  []string  `json:"related_articles"`
	EstimatedMinutes int       `json:"estimated_minutes"`
	Timestamp        time.Time `json:"timestamp"`
}

type lesson struct {
	topic    string
	content  string
	articles []string
	minutes  int
}

var lessonDB = map[string]lesson{
	"slow_approval": {
		topic: "Understanding ROI Metrics in Energy Optimization",
		content: "When reviewing energy optimization proposals, focus on three key metrics:\n" +
			"1. Monthly Savings: direct operational cost reduction.\n" +
			"2. NPV (3yr): accounts for time value of money at 8% discount rate.\n" +
			"3. Payback Period: months until the investment is recovered.\n\n" +
			"Tip: If the payback period is <12 months and NPV is positive, " +
			"the action is almost always worth approving.",
		articles: []string{"EU AI Act Art. 14 - Human Oversight", "ASHRAE 90.1 - Energy Standards"},
		minutes:  3,
	},
	"repeated_rejection": {
		topic: "Compliance Thresholds and Action Boundaries",
		content: "If you're repeatedly rejecting agent recommendations, consider:\n" +
			"1. Are the anomaly severity thresholds too sensitive? Adjust via the ROI slider.\n" +
			"2. Is the compliance framework overly strict? Check the Articles referenced.\n" +
			"3. Has the risk profile changed? Review the latest risk score.\n\n" +
			"Tip: Use the ROI adjustment slider to fine-tune recommendations " +
			"before rejecting outright.",
		articles: []string{"EU AI Act Art. 9 - Risk Management", "ISO 50001 - Energy Management"},
		minutes:  4,
	},
	"self_correction_loop": {
		topic: "Data Citation and Source Verification",
		content: "Self-correction loops occur when the compliance stage cannot verify data citations.\n" +
			"This usually indicates:\n" +
			"1. Telemetry data gaps: check BMS sensor connectivity.\n" +
			"2. Citation format issues: ensure data sources are properly tagged.\n" +
			"3. Threshold misconfiguration: anomaly thresholds may be too tight.\n\n" +
			"Tip: The 'Cite-Before-Act' protocol requires every decision to " +
			"reference verifiable data sources.",
		articles: []string{"EU AI Act Art. 13 - Transparency", "EU AI Act Art. 71 - Auditing"},
		minutes:  5,
	},
	"high_error_rate": {
		topic: "System Health and Error Diagnosis",
		content: "High error rates suggest systemic issues:\n" +
			"1. Check BMS telemetry connectivity and data freshness.\n" +
			"2. Review recent infrastructure changes that may affect baseline readings.\n" +
			"3. Consider running a manual diagnostic scan before triggering automated analysis.\n\n" +
			"Tip: The error log in the Decision Traces panel shows detailed failure reasons.",
		articles: []string{"ISO 27001 - Information Security", "NIST AI 600-1 - AI Risk"},
		minutes:  3,
	},
}

// GenerateUpskill maps friction signals to micro-lessons from the
// deterministic library. Unknown signal types are skipped.
func GenerateUpskill(signals []FrictionSignal) []UpskillRecommendation {
	now := time.Now().UTC()
	var out []UpskillRecommendation
	for _, s := range signals {
		l, ok := lessonDB[s.SignalType]
		if !ok {
			continue
		}
		urgency := "suggested"
		switch s.Severity {
		case "high":
			urgency = "required"
		case "medium":
			urgency = "recommended"
		}
		out = append(out, UpskillRecommendation{
			Topic:            l.topic,
			Urgency:          urgency,
			Content:          l.content,
			RelatedArticles:  l.articles,
			EstimatedMinutes: l.minutes,
			Timestamp:        now,
		})
	}
	return out
}
