// Package discovery generates A2A-compliant agent cards for the agent
// swarm and the top-level orchestrator, with public keys sourced from
// the identity store.
package discovery

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ecoverify-ai/ecoverify/internal/nhi"
)

// AgentCard describes one agent for external interoperability.
type AgentCard struct {
	AgentID        string         `json:"agent_id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Version        string         `json:"version"`
	Capabilities   []string       `json:"capabilities"`
	Protocols      []string       `json:"protocols"`
	Endpoint       string         `json:"endpoint"`
	Authentication string         `json:"authentication,omitempty"`
	PublicKeyB64   string         `json:"public_key_b64,omitempty"`
	Metadata       map[string]any `json:"metadata"`
}

// TaskAgreement records a negotiated unit of work between two agents.
type TaskAgreement struct {
	TaskID          string    `json:"task_id"`
	RequesterAgent  string    `json:"requester_agent"`
	ProviderAgent   string    `json:"provider_agent"`
	TaskDescription string    `json:"task_description"`
	FeeUSDC         float64   `json:"fee_usdc"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
}

type definition struct {
	name         string
	description  string
	capabilities []string
}

var agentDefinitions = map[string]definition{
	"detector": {
		name:         "The Vanguard",
		description:  "Autonomous anomaly detection agent. Ingests real-time BMS telemetry to detect energy and water anomalies using threshold-based analysis.",
		capabilities: []string{"telemetry_ingestion", "anomaly_detection", "data_citation", "nhi_signing"},
	},
	"jurist": {
		name:         "The Jurist",
		description:  "EU AI Act compliance evaluation agent. Verifies regulatory compliance and citation integrity before any action proceeds.",
		capabilities: []string{"compliance_evaluation", "regulatory_query", "citation_verification", "risk_classification"},
	},
	"architect": {
		name:         "The Architect",
		description:  "ROI simulation and 3D visualization agent. Runs what-if scenarios, computes NPV/payback, and generates digital twin scene data.",
		capabilities: []string{"roi_analysis", "npv_computation", "3d_scene_generation", "jira_drafting"},
	},
	"governor": {
		name:         "The Governor",
		description:  "Human-in-the-loop breakpoint agent. Mandatory approval checkpoint for state-mutating actions exceeding configurable thresholds.",
		capabilities: []string{"hitl_approval", "roi_adjustment", "action_gating", "threshold_enforcement"},
	},
	"finalizer": {
		name:         "The Finalizer",
		description:  "Execution completion agent. Submits maintenance tickets, generates Mermaid proof graphs, and emits completion events.",
		capabilities: []string{"ticket_submission", "proof_graph_generation", "settlement_trigger", "audit_trail"},
	},
}

// agentOrder keeps card listings deterministic.
var agentOrder = []string{"detector", "jurist", "architect", "governor", "finalizer"}

// Service builds agent cards.
type Service struct {
	keys    *nhi.KeyStore
	baseURL string
	logger  *slog.Logger
}

// NewService creates a discovery service rooted at baseURL.
func NewService(keys *nhi.KeyStore, baseURL string, logger *slog.Logger) *Service {
	return &Service{keys: keys, baseURL: baseURL, logger: logger}
}

// Card builds the card for one agent id.
func (s *Service) Card(agentID string) (AgentCard, error) {
	defn, ok := agentDefinitions[agentID]
	if !ok {
		return AgentCard{}, fmt.Errorf("discovery: unknown agent %q", agentID)
	}

	// The finalizer aggregates rather than signs, so it has no key.
	pubKey := ""
	if b64, err := s.keys.PublicKeyB64(agentID); err == nil {
		pubKey = b64
	}

	return AgentCard{
		AgentID:      agentID,
		Name:         defn.name,
		Description:  defn.description,
		Version:      "0.1.0",
		Capabilities: defn.capabilities,
		Protocols:    []string{"a2a/1.0", "mcp/1.0"},
		Endpoint:     s.baseURL + "/api/a2a/agents/" + agentID,
		PublicKeyB64: pubKey,
		Metadata: map[string]any{
			"framework":     "ecoverify",
			"nhi_algorithm": "Ed25519",
		},
	}, nil
}

// AllCards returns the cards for every known agent in a stable order.
func (s *Service) AllCards() []AgentCard {
	cards := make([]AgentCard, 0, len(agentOrder))
	for _, id := range agentOrder {
		card, err := s.Card(id)
		if err != nil {
			s.logger.Warn("agent card generation failed", "agent_id", id, "error", err)
			continue
		}
		cards = append(cards, card)
	}
	return cards
}

// OrchestratorCard is the top-level card served at .well-known/agent.json.
func (s *Service) OrchestratorCard() AgentCard {
	return AgentCard{
		AgentID: "ecoverify",
		Name:    "EcoVerify Orchestrator",
		Description: "Autonomic governor that monitors, verifies, and optimizes " +
			"building operations across environmental, financial, health, and " +
			"educational domains using a durable cyclic state machine.",
		Version: "0.1.0",
		Capabilities: []string{
			"multi_agent_orchestration",
			"durable_state_machine",
			"nhi_cryptographic_signing",
			"eu_ai_act_compliance",
			"usdc_settlement",
			"fhir_interop",
			"cognitive_friction_detection",
			"intent_aware_ui",
		},
		Protocols:      []string{"a2a/1.0", "mcp/1.0"},
		Endpoint:       s.baseURL + "/api",
		Authentication: "nhi_ed25519",
		Metadata: map[string]any{
			"agents": agentOrder,
		},
	}
}

// Discover returns the cards advertising a given capability.
func (s *Service) Discover(capability string) []AgentCard {
	var out []AgentCard
	for _, card := range s.AllCards() {
		for _, c := range card.Capabilities {
			if c == capability {
				out = append(out, card)
				break
			}
		}
	}
	return out
}

// NegotiateTask proposes a fee-bearing task between two agents.
func NegotiateTask(requesterID, providerID, description string, feeUSDC float64) TaskAgreement {
	return TaskAgreement{
		TaskID:          uuid.NewString(),
		RequesterAgent:  requesterID,
		ProviderAgent:   providerID,
		TaskDescription: description,
		FeeUSDC:         feeUSDC,
		Status:          "proposed",
		Timestamp:       time.Now().UTC(),
	}
}
