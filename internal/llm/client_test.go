package llm

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEnrichSummary_DisabledReturnsFallback(t *testing.T) {
	c := NewClient("", "", "", testLogger())
	assert.False(t, c.Enabled())
	got := c.EnrichSummary(context.Background(), "prompt", "deterministic text")
	assert.Equal(t, "deterministic text", got)
}

func TestEnrichSummary_UsesModelResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Energy spike detected in HQ-01."}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "gpt-4o-mini", testLogger())
	got := c.EnrichSummary(context.Background(), "summarize", "fallback")
	assert.Equal(t, "Energy spike detected in HQ-01.", got)
}

func TestEnrichSummary_ServerErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "", testLogger())
	assert.Equal(t, "fallback", c.EnrichSummary(context.Background(), "summarize", "fallback"))
}

func TestEnrichSummary_MalformedBodyFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "", testLogger())
	assert.Equal(t, "fallback", c.EnrichSummary(context.Background(), "summarize", "fallback"))
}
