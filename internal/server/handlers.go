package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ecoverify-ai/ecoverify/internal/bms"
	"github.com/ecoverify-ai/ecoverify/internal/discovery"
	"github.com/ecoverify-ai/ecoverify/internal/graph"
	"github.com/ecoverify-ai/ecoverify/internal/media"
	"github.com/ecoverify-ai/ecoverify/internal/settlement"
	"github.com/ecoverify-ai/ecoverify/internal/state"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	runner      *graph.Runner
	telemetry   *bms.Simulator
	settlements *settlement.Engine
	discovery   *discovery.Service
	logger      *slog.Logger
	version     string
	buildingID  string
	maxBody     int64
}

// HandlersDeps bundles the dependencies for NewHandlers.
type HandlersDeps struct {
	Runner              *graph.Runner
	Telemetry           *bms.Simulator
	Settlements         *settlement.Engine
	Discovery           *discovery.Service
	Logger              *slog.Logger
	Version             string
	BuildingID          string
	MaxRequestBodyBytes int64
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		runner:      deps.Runner,
		telemetry:   deps.Telemetry,
		settlements: deps.Settlements,
		discovery:   deps.Discovery,
		logger:      deps.Logger,
		version:     deps.Version,
		buildingID:  deps.BuildingID,
		maxBody:     deps.MaxRequestBodyBytes,
	}
}

func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

type runRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
}

type runResponse struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

// HandleRun handles POST /api/run: starts a new verification thread.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 && !h.decodeJSON(w, r, &req) {
		return
	}

	threadID, err := h.runner.Start(r.Context(), state.New(), req.ThreadID)
	if err != nil {
		if errors.Is(err, graph.ErrAlreadyRunning) {
			writeError(w, r, http.StatusConflict, "already_running", "thread is already running")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, r, http.StatusAccepted, runResponse{ThreadID: threadID, Status: "started"})
}

// HandleResume handles POST /api/resume/{thread_id}: answers a pending
// human-approval interrupt.
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")

	var human graph.HumanResponse
	if !h.decodeJSON(w, r, &human) {
		return
	}

	if err := h.runner.Resume(r.Context(), threadID, human); err != nil {
		switch {
		case errors.Is(err, graph.ErrThreadNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", "unknown thread")
		case errors.Is(err, graph.ErrNotInterrupted):
			writeError(w, r, http.StatusConflict, "not_interrupted", "thread is not awaiting approval")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		}
		return
	}
	writeJSON(w, r, http.StatusAccepted, runResponse{ThreadID: threadID, Status: "resumed"})
}

// HandleCancel handles POST /api/cancel/{thread_id}.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")
	if err := h.runner.Cancel(threadID); err != nil {
		switch {
		case errors.Is(err, graph.ErrThreadNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", "unknown thread")
		case errors.Is(err, graph.ErrThreadFinished):
			writeError(w, r, http.StatusConflict, "finished", "thread already finished")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		}
		return
	}
	writeJSON(w, r, http.StatusAccepted, runResponse{ThreadID: threadID, Status: "cancelling"})
}

// HandleStatus handles GET /api/status/{thread_id}.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.runner.Status(r.Context(), r.PathValue("thread_id"))
	if err != nil {
		if errors.Is(err, graph.ErrThreadNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "unknown thread")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

type tracesResponse struct {
	ThreadID      string                `json:"thread_id"`
	Traces        []graph.VerifiedTrace `json:"traces"`
	VerifiedCount int                   `json:"verified_count"`
}

// HandleTraces handles GET /api/traces/{thread_id}: the signed decision
// chain, re-verified against the identity store at read time.
func (h *Handlers) HandleTraces(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")
	traces, err := h.runner.Traces(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, graph.ErrThreadNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "unknown thread")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	verified := 0
	for _, tr := range traces {
		if tr.Verified {
			verified++
		}
	}
	writeJSON(w, r, http.StatusOK, tracesResponse{
		ThreadID:      threadID,
		Traces:        traces,
		VerifiedCount: verified,
	})
}

type injectRequest struct {
	BuildingID string  `json:"building_id,omitempty"`
	Severity   float64 `json:"severity,omitempty"`
}

// HandleInjectAnomaly handles POST /api/inject-anomaly: plants a spike
// for the next detector scan.
func (h *Handlers) HandleInjectAnomaly(w http.ResponseWriter, r *http.Request) {
	req := injectRequest{BuildingID: h.buildingID, Severity: 0.8}
	if r.ContentLength != 0 && !h.decodeJSON(w, r, &req) {
		return
	}
	if req.BuildingID == "" {
		req.BuildingID = h.buildingID
	}
	if req.Severity <= 0 || req.Severity > 1 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "severity must be in (0, 1]")
		return
	}

	receipt := h.telemetry.Inject(req.BuildingID, req.Severity)
	writeJSON(w, r, http.StatusOK, receipt)
}

type settlementsResponse struct {
	ThreadID    string           `json:"thread_id"`
	Settlements []map[string]any `json:"settlements"`
	Wallets     []walletView     `json:"wallets"`
}

type walletView struct {
	settlement.Wallet
	BalanceUSDC float64 `json:"balance_usdc"`
}

// HandleSettlements handles GET /api/settlements/{thread_id}: the
// thread's settlement receipts plus current wallet balances.
func (h *Handlers) HandleSettlements(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")
	st, err := h.runner.State(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, graph.ErrThreadNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "unknown thread")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	resp := settlementsResponse{ThreadID: threadID, Settlements: st.Settlements}
	for _, agentID := range []string{"architect", "governor"} {
		resp.Wallets = append(resp.Wallets, walletView{
			Wallet:      h.settlements.Wallet(agentID),
			BalanceUSDC: h.settlements.Balance(agentID),
		})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type personalizeResponse struct {
	Intent    media.UserIntent      `json:"intent"`
	Dashboard media.DashboardConfig `json:"dashboard"`
}

// HandlePersonalize handles POST /api/personalize: interaction telemetry
// in, personalized dashboard layout out.
func (h *Handlers) HandlePersonalize(w http.ResponseWriter, r *http.Request) {
	var telemetry media.InteractionTelemetry
	if !h.decodeJSON(w, r, &telemetry) {
		return
	}
	intent := media.AnalyzeIntent(telemetry)
	writeJSON(w, r, http.StatusOK, personalizeResponse{
		Intent:    intent,
		Dashboard: media.BuildDashboardConfig(intent),
	})
}

// HandleAgentCard handles GET /api/.well-known/agent.json: the
// orchestrator's A2A discovery card.
func (h *Handlers) HandleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.discovery.OrchestratorCard())
}

type agentListResponse struct {
	Agents []discovery.AgentCard `json:"agents"`
	Count  int                   `json:"count"`
}

// HandleAgentList handles GET /api/a2a/agents: all registered agent cards.
func (h *Handlers) HandleAgentList(w http.ResponseWriter, r *http.Request) {
	cards := h.discovery.AllCards()
	writeJSON(w, r, http.StatusOK, agentListResponse{Agents: cards, Count: len(cards)})
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:  "healthy",
		Version: h.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}
