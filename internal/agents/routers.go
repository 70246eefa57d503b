package agents

import (
	"github.com/ecoverify-ai/ecoverify/internal/graph"
	"github.com/ecoverify-ai/ecoverify/internal/state"
)

// routeAfterDetector sends findings to the jurist; a clean scan ends
// the thread.
func (s *Steps) routeAfterDetector(st state.ExecutionState) string {
	if len(st.Anomalies) > 0 {
		s.logger.Info("routing detector -> jurist", "anomalies", len(st.Anomalies))
		return "jurist"
	}
	s.logger.Info("routing detector -> end", "reason", "no anomalies")
	return graph.End
}

// routeAfterJurist implements the self-correction loop and the
// compliance fork: citation failures retry the detector up to
// MaxIterations, non-compliant findings go straight to the governor,
// and compliant findings proceed to the architect.
func (s *Steps) routeAfterJurist(st state.ExecutionState) string {
	if st.CurrentPhase == state.PhaseCitationFailure {
		if st.IterationCount >= MaxIterations {
			s.logger.Warn("self-correction limit reached, ending thread",
				"iteration", st.IterationCount)
			return graph.End
		}
		s.logger.Info("routing jurist -> detector",
			"reason", "citation failure", "iteration", st.IterationCount)
		return "detector"
	}

	if complianceStatus(st) == "non_compliant" {
		s.logger.Info("routing jurist -> governor", "reason", "non-compliant, immediate human review")
		return "governor"
	}

	s.logger.Info("routing jurist -> architect", "reason", "compliant")
	return "architect"
}

// routeAfterArchitect always goes to the governor: state mutations need
// the human breakpoint.
func (s *Steps) routeAfterArchitect(state.ExecutionState) string {
	return "governor"
}
