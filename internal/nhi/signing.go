package nhi

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ecoverify-ai/ecoverify/internal/canon"
)

// DecisionTrace is a signed, tamper-evident record of one agent decision.
// PayloadHash and Signature both cover the canonical form of the signable
// triple {agent_id, timestamp, decision}.
type DecisionTrace struct {
	AgentID     string         `json:"agent_id"`
	Timestamp   string         `json:"timestamp"`
	Decision    map[string]any `json:"decision"`
	PayloadHash string         `json:"payload_hash"`
	Signature   string         `json:"signature"`
}

type signable struct {
	AgentID   string         `json:"agent_id"`
	Timestamp string         `json:"timestamp"`
	Decision  map[string]any `json:"decision"`
}

func signableBytes(agentID, timestamp string, decision map[string]any) ([]byte, error) {
	return canon.Marshal(signable{AgentID: agentID, Timestamp: timestamp, Decision: decision})
}

// Sign produces a decision trace for decision on behalf of agentID.
func Sign(agentID string, decision map[string]any, priv ed25519.PrivateKey) (DecisionTrace, error) {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	payload, err := signableBytes(agentID, ts, decision)
	if err != nil {
		return DecisionTrace{}, fmt.Errorf("nhi: sign: %w", err)
	}
	return DecisionTrace{
		AgentID:     agentID,
		Timestamp:   ts,
		Decision:    decision,
		PayloadHash: canon.HashBytes(payload),
		Signature:   base64.StdEncoding.EncodeToString(ed25519.Sign(priv, payload)),
	}, nil
}

// Verify checks a trace against the agent's public key. Any mutation of
// agent_id, timestamp, decision, payload_hash, or signature flips the
// result to false. Never panics on malformed input.
func Verify(trace DecisionTrace, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	payload, err := signableBytes(trace.AgentID, trace.Timestamp, trace.Decision)
	if err != nil {
		return false
	}
	if canon.HashBytes(payload) != trace.PayloadHash {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(trace.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}
