// Package agents implements the five pipeline steps and their routing:
// detector, jurist, architect, governor, and finalizer. Each step reads
// the shared execution state, consults its subsystems, signs its
// decision, and returns a delta for the runtime to merge.
package agents

import (
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecoverify-ai/ecoverify/internal/bms"
	"github.com/ecoverify-ai/ecoverify/internal/fhir"
	"github.com/ecoverify-ai/ecoverify/internal/graph"
	"github.com/ecoverify-ai/ecoverify/internal/llm"
	"github.com/ecoverify-ai/ecoverify/internal/nhi"
	"github.com/ecoverify-ai/ecoverify/internal/regulatory"
	"github.com/ecoverify-ai/ecoverify/internal/settlement"
	"github.com/ecoverify-ai/ecoverify/internal/state"
	"github.com/ecoverify-ai/ecoverify/internal/tickets"
)

// MaxIterations caps the jurist-to-detector self-correction loop.
const MaxIterations = 5

// DefaultBuildingID is the campus headquarters monitored in demo mode.
const DefaultBuildingID = "HQ-01"

// Config wires the subsystems into the step set. Telemetry, Registry,
// Tickets, Settlements, FHIR, and Keys are required.
type Config struct {
	Telemetry   *bms.Simulator
	Registry    *regulatory.Registry
	Tickets     *tickets.Tracker
	Settlements *settlement.Engine
	FHIR        *fhir.Client
	Keys        *nhi.KeyStore
	LLM         *llm.Client
	Logger      *slog.Logger
	BuildingID  string
	Clock       func() time.Time
}

// Steps holds the wired pipeline steps.
type Steps struct {
	telemetry   *bms.Simulator
	registry    *regulatory.Registry
	tickets     *tickets.Tracker
	settlements *settlement.Engine
	fhir        *fhir.Client
	llm         *llm.Client
	keys        *nhi.KeyStore
	logger      *slog.Logger
	tracer      trace.Tracer
	buildingID  string
	clock       func() time.Time
}

// NewSteps builds the step set from cfg, applying defaults for the
// optional fields.
func NewSteps(cfg Config) *Steps {
	s := &Steps{
		telemetry:   cfg.Telemetry,
		registry:    cfg.Registry,
		tickets:     cfg.Tickets,
		settlements: cfg.Settlements,
		fhir:        cfg.FHIR,
		llm:         cfg.LLM,
		keys:        cfg.Keys,
		logger:      cfg.Logger,
		tracer:      otel.Tracer("github.com/ecoverify-ai/ecoverify/internal/agents"),
		buildingID:  cfg.BuildingID,
		clock:       cfg.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.buildingID == "" {
		s.buildingID = DefaultBuildingID
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// Nodes returns the static node map for the pipeline runtime. The
// governor routes via Command, so it carries no router.
func (s *Steps) Nodes() map[string]graph.Node {
	return map[string]graph.Node{
		"detector":  {Step: s.Detector, Router: s.routeAfterDetector},
		"jurist":    {Step: s.Jurist, Router: s.routeAfterJurist},
		"architect": {Step: s.Architect, Router: s.routeAfterArchitect},
		"governor":  {Step: s.Governor},
		"finalizer": {Step: s.Finalizer, Router: func(state.ExecutionState) string { return graph.End }},
	}
}

// sign produces a decision trace for agentID, provisioning the keypair
// on first use.
func (s *Steps) sign(agentID string, decision map[string]any) (nhi.DecisionTrace, error) {
	priv, err := s.keys.Generate(agentID, false)
	if err != nil {
		return nhi.DecisionTrace{}, err
	}
	return nhi.Sign(agentID, decision, priv)
}

// asMap converts a struct to its JSON object form for storage in the
// shared state's generic fields.
func asMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func asMaps[T any](items []T) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, asMap(item))
	}
	return out
}

func mapFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func mapString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
