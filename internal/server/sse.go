package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ecoverify-ai/ecoverify/internal/graph"
)

// formatSSE formats one event as a Server-Sent Events message:
// "event: <type>\ndata: <payload>\n\n".
func formatSSE(eventType string, data []byte) []byte {
	buf := make([]byte, 0, len(eventType)+len(data)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, eventType...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	return buf
}

func marshalSSE(ev graph.Event) []byte {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		data = []byte("{}")
	}
	return formatSSE(ev.Type, data)
}

// startSSE writes the stream headers and returns a controller that can
// flush through the middleware writer wrappers.
func startSSE(w http.ResponseWriter) *http.ResponseController {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()
	// Disable the server's WriteTimeout for this long-lived connection.
	_ = rc.SetWriteDeadline(time.Time{})
	return rc
}

// HandleStream handles GET /api/stream/{thread_id} (SSE). History is
// replayed first, then live events stream until the thread completes or
// the client disconnects.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")

	ch, unsubscribe, err := h.runner.Subscribe(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, graph.ErrThreadNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "unknown thread")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	defer unsubscribe()

	rc := startSSE(w)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			_ = rc.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(marshalSSE(ev)); err != nil {
				return
			}
			_ = rc.Flush()
			if ev.Type == "complete" {
				return
			}
		}
	}
}

// demoScript is the scripted event sequence for GET /api/demo/stream,
// a canned loop for frontend development without a live thread.
var demoScript = []graph.Event{
	{Type: "phase_change", Payload: map[string]any{"phase": "detector_running"}},
	{Type: "neural_feed", Payload: map[string]any{"agent": "DETECTOR", "message": "[DETECTOR] Scanned HQ-01: 1 anomaly found across energy and water."}},
	{Type: "phase_change", Payload: map[string]any{"phase": "jurist_complete"}},
	{Type: "neural_feed", Payload: map[string]any{"agent": "JURIST", "message": "[JURIST] Compliance evaluation complete: compliant. Human oversight required."}},
	{Type: "phase_change", Payload: map[string]any{"phase": "architect_complete"}},
	{Type: "neural_feed", Payload: map[string]any{"agent": "ARCHITECT", "message": "[ARCHITECT] ROI simulation complete: $12417.30/month projected."}},
	{Type: "governor_panel", Payload: map[string]any{
		"action_summary":    "Approve maintenance action for 1 anomalie(s). Estimated monthly saving: $12417.30.",
		"estimated_roi":     12417.3,
		"requires_approval": true,
	}},
	{Type: "interrupt", Payload: map[string]any{"phase": "awaiting_approval"}},
	{Type: "phase_change", Payload: map[string]any{"phase": "governor_approved"}},
	{Type: "neural_feed", Payload: map[string]any{"agent": "GOVERNOR", "message": "Action APPROVED by human operator."}},
	{Type: "settlement_update", Payload: map[string]any{"from_agent": "architect", "to_agent": "governor", "amount_usdc": 12.42, "status": "confirmed"}},
	{Type: "phase_change", Payload: map[string]any{"phase": "complete"}},
	{Type: "complete", Payload: map[string]any{"phase": "complete"}},
}

// HandleDemoStream handles GET /api/demo/stream: the scripted sequence
// at a fixed cadence.
func (h *Handlers) HandleDemoStream(w http.ResponseWriter, r *http.Request) {
	interval := 400 * time.Millisecond
	if v := r.URL.Query().Get("interval_ms"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 && ms <= 5000 {
			interval = time.Duration(ms) * time.Millisecond
		}
	}

	rc := startSSE(w)

	ctx := r.Context()
	for _, ev := range demoScript {
		if _, err := w.Write(marshalSSE(ev)); err != nil {
			return
		}
		_ = rc.Flush()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
