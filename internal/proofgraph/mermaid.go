// Package proofgraph renders a decision trace chain as a Mermaid
// flowchart. Output is deterministic: identical chains produce
// byte-identical diagrams.
package proofgraph

import (
	"fmt"
	"strings"

	"github.com/ecoverify-ai/ecoverify/internal/nhi"
)

// styledRoles are the agents that get a classDef. Declaration order is
// fixed so the diagram bytes never depend on map iteration.
var styledRoles = []string{"detector", "jurist", "architect", "governor"}

var roleStyles = map[string]string{
	"detector":  "fill:#1e40af,stroke:#3b82f6,color:#fff",
	"jurist":    "fill:#6b21a8,stroke:#a855f7,color:#fff",
	"architect": "fill:#065f46,stroke:#10b981,color:#fff",
	"governor":  "fill:#92400e,stroke:#f59e0b,color:#fff",
}

// Build renders the trace chain as a top-down Mermaid flowchart: a
// stadium START node, one shaped node per trace (ellipse for the
// detector, rectangle for jurist and architect, rhombus for the
// governor), edges labelled with the first 8 hex chars of the source
// trace's payload hash, and an END node.
func Build(traces []nhi.DecisionTrace) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	b.WriteString("    START((\"Start\"))\n")

	prev := "START"
	for i, trace := range traces {
		agent := trace.AgentID
		if agent == "" {
			agent = fmt.Sprintf("agent_%d", i)
		}
		nodeID := fmt.Sprintf("%s_%d", agent, i)

		lb, rb := "[", "]"
		switch agent {
		case "governor":
			lb, rb = "{", "}"
		case "detector":
			lb, rb = "([", "])"
		}

		label := strings.ToUpper(agent) + "\\n" + decisionAction(trace.Decision) + decisionDetail(trace.Decision)
		fmt.Fprintf(&b, "    %s%s\"%s\"%s\n", nodeID, lb, label, rb)

		sig := trace.PayloadHash
		if len(sig) > 8 {
			sig = sig[:8]
		}
		fmt.Fprintf(&b, "    %s -->|\"sig:%s\"| %s\n", prev, sig, nodeID)
		prev = nodeID
	}

	fmt.Fprintf(&b, "    %s --> END((\"Complete\"))\n", prev)
	b.WriteString("\n")
	for _, role := range styledRoles {
		fmt.Fprintf(&b, "    classDef %s %s\n", role, roleStyles[role])
	}
	for i, trace := range traces {
		if _, ok := roleStyles[trace.AgentID]; ok {
			fmt.Fprintf(&b, "    class %s_%d %s\n", trace.AgentID, i, trace.AgentID)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func decisionAction(decision map[string]any) string {
	if action, ok := decision["action"].(string); ok {
		return action
	}
	return "unknown"
}

// decisionDetail picks the single most informative decision field for
// the node label, in a fixed precedence order.
func decisionDetail(decision map[string]any) string {
	if v, ok := decision["monthly_savings_usd"]; ok {
		return fmt.Sprintf("\\n$%.0f/mo", toFloat(v))
	}
	if v, ok := decision["anomalies_found"]; ok {
		return fmt.Sprintf("\\n%.0f anomalie(s)", toFloat(v))
	}
	if v, ok := decision["status"].(string); ok {
		return "\\n" + v
	}
	if v, ok := decision["approved"].(bool); ok {
		if v {
			return "\\nApproved"
		}
		return "\\nRejected"
	}
	return ""
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
