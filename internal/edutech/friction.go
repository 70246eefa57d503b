// Package edutech watches operator interaction patterns for cognitive
// friction and generates just-in-time micro-lesson recommendations.
package edutech

import (
	"fmt"
	"time"
)

// Friction thresholds.
const (
	SlowApprovalThreshold = 60 * time.Second
	MaxSelfCorrections    = 3
	HighErrorRate         = 0.3
)

// FrictionSignal marks one detected moment of operator confusion.
type FrictionSignal struct {
	SignalType      string    `json:"signal_type"`
	Severity        string    `json:"severity"`
	Context         string    `json:"context"`
	AgentPhase      string    `json:"agent_phase"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Metrics summarize one thread's interaction history.
type Metrics struct {
	ApprovalLatency     time.Duration
	RejectionCount      int
	SelfCorrectionCount int
	ErrorCount          int
	TotalActions        int
	AgentPhase          string
}

// DetectFriction inspects interaction metrics and returns zero or more
// friction signals.
func DetectFriction(m Metrics) []FrictionSignal {
	now := time.Now().UTC()
	var signals []FrictionSignal

	if m.ApprovalLatency > SlowApprovalThreshold {
		severity := "medium"
		if m.ApprovalLatency >= 120*time.Second {
			severity = "high"
		}
		signals = append(signals, FrictionSignal{
			SignalType: "slow_approval",
			Severity:   severity,
			Context: fmt.Sprintf("Approval took %.0fs (threshold: %.0fs)",
				m.ApprovalLatency.Seconds(), SlowApprovalThreshold.Seconds()),
			AgentPhase:      m.AgentPhase,
			DurationSeconds: m.ApprovalLatency.Seconds(),
			Timestamp:       now,
		})
	}

	if m.RejectionCount >= 2 {
		severity := "medium"
		if m.RejectionCount >= 3 {
			severity = "high"
		}
		signals = append(signals, FrictionSignal{
			SignalType: "repeated_rejection",
			Severity:   severity,
			Context:    fmt.Sprintf("Operator rejected %d consecutive actions", m.RejectionCount),
			AgentPhase: m.AgentPhase,
			Timestamp:  now,
		})
	}

	if m.SelfCorrectionCount >= MaxSelfCorrections {
		signals = append(signals, FrictionSignal{
			SignalType: "self_correction_loop",
			Severity:   "high",
			Context: fmt.Sprintf("Agent self-corrected %d times (limit: %d)",
				m.SelfCorrectionCount, MaxSelfCorrections),
			AgentPhase: m.AgentPhase,
			Timestamp:  now,
		})
	}

	total := max(m.TotalActions, 1)
	errorRate := float64(m.ErrorCount) / float64(total)
	if errorRate >= HighErrorRate && m.ErrorCount >= 2 {
		severity := "medium"
		if errorRate >= 0.5 {
			severity = "high"
		}
		signals = append(signals, FrictionSignal{
			SignalType: "high_error_rate",
			Severity:   severity,
			Context:    fmt.Sprintf("Error rate %.0f%% (%d/%d actions)", errorRate*100, m.ErrorCount, total),
			AgentPhase: m.AgentPhase,
			Timestamp:  now,
		})
	}

	return signals
}
