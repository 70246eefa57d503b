// Package settlement simulates on-chain USDC micro-settlements between
// agents on a devnet, with per-agent wallets and an in-memory ledger.
// In production this would submit SPL token transfers to a Solana RPC
// endpoint.
package settlement

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// SeedBalanceUSDC is the devnet airdrop granted to every new wallet.
const SeedBalanceUSDC = 10_000.0

// ServiceFeeRate is the architect-to-governor fee taken from projected
// monthly savings.
const ServiceFeeRate = 0.001

// Wallet is one agent's simulated devnet wallet.
type Wallet struct {
	AgentID   string `json:"agent_id"`
	PublicKey string `json:"public_key"`
	Network   string `json:"network"`
}

// Receipt records one settlement attempt, confirmed or failed.
type Receipt struct {
	TxSignature string    `json:"tx_signature"`
	FromAgent   string    `json:"from_agent"`
	ToAgent     string    `json:"to_agent"`
	AmountUSDC  float64   `json:"amount_usdc"`
	Network     string    `json:"network"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Memo        string    `json:"memo"`
	BlockHash   string    `json:"block_hash,omitempty"`
}

// Engine holds wallets, balances, and the settlement ledger. Safe for
// concurrent use.
type Engine struct {
	network string
	logger  *slog.Logger

	mu       sync.Mutex
	wallets  map[string]Wallet
	balances map[string]float64
	ledger   []Receipt
}

// NewEngine creates a settlement engine for the named network
// (typically "devnet").
func NewEngine(network string, logger *slog.Logger) *Engine {
	return &Engine{
		network:  network,
		logger:   logger,
		wallets:  make(map[string]Wallet),
		balances: make(map[string]float64),
	}
}

func deriveAddress(agentID string) string {
	raw := blake2b.Sum256([]byte("ecoverify:" + agentID + ":solana"))
	return base64.StdEncoding.EncodeToString(raw[:])[:44]
}

func mockTxSignature() string {
	u := uuid.New()
	raw := sha256.Sum256(u[:])
	full := hex.EncodeToString(raw[:]) + hex.EncodeToString(raw[:])
	return full[:88]
}

// Wallet returns the wallet for agentID, creating and seeding it on
// first use.
func (e *Engine) Wallet(agentID string) Wallet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.walletLocked(agentID)
}

func (e *Engine) walletLocked(agentID string) Wallet {
	w, ok := e.wallets[agentID]
	if !ok {
		w = Wallet{AgentID: agentID, PublicKey: deriveAddress(agentID), Network: e.network}
		e.wallets[agentID] = w
		e.balances[agentID] = SeedBalanceUSDC
		e.logger.Info("created devnet wallet",
			"agent_id", agentID, "address", w.PublicKey, "balance_usdc", SeedBalanceUSDC)
	}
	return w
}

// Balance returns the USDC balance for agentID.
func (e *Engine) Balance(agentID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.walletLocked(agentID)
	return e.balances[agentID]
}

// Settle executes a USDC transfer between two agents. An insufficient
// balance yields a failed receipt rather than an error; both outcomes
// are appended to the ledger.
func (e *Engine) Settle(fromAgent, toAgent string, amountUSDC float64, memo string) Receipt {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.walletLocked(fromAgent)
	e.walletLocked(toAgent)

	r := Receipt{
		TxSignature: mockTxSignature(),
		FromAgent:   fromAgent,
		ToAgent:     toAgent,
		AmountUSDC:  amountUSDC,
		Network:     e.network,
		Timestamp:   time.Now().UTC(),
	}

	if e.balances[fromAgent] < amountUSDC {
		r.Status = "failed"
		r.Memo = memo
		if r.Memo == "" {
			r.Memo = "Insufficient USDC balance"
		}
		e.ledger = append(e.ledger, r)
		e.logger.Warn("settlement failed",
			"from", fromAgent, "to", toAgent, "amount_usdc", amountUSDC, "reason", "insufficient balance")
		return r
	}

	e.balances[fromAgent] -= amountUSDC
	e.balances[toAgent] += amountUSDC

	block := sha256.Sum256([]byte(r.TxSignature))
	r.Status = "confirmed"
	r.BlockHash = hex.EncodeToString(block[:])
	r.Memo = memo
	if r.Memo == "" {
		r.Memo = "A2A service fee: " + fromAgent + " -> " + toAgent
	}
	e.ledger = append(e.ledger, r)
	e.logger.Info("settlement confirmed",
		"from", fromAgent, "to", toAgent, "amount_usdc", amountUSDC, "tx", r.TxSignature[:16])
	return r
}

// ByTx looks up a settlement by transaction signature.
func (e *Engine) ByTx(txSignature string) (Receipt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.ledger {
		if r.TxSignature == txSignature {
			return r, true
		}
	}
	return Receipt{}, false
}

// ByAgent returns all settlements involving agentID.
func (e *Engine) ByAgent(agentID string) []Receipt {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Receipt
	for _, r := range e.ledger {
		if r.FromAgent == agentID || r.ToAgent == agentID {
			out = append(out, r)
		}
	}
	return out
}

// Ledger returns a copy of the full settlement ledger.
func (e *Engine) Ledger() []Receipt {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Receipt, len(e.ledger))
	copy(out, e.ledger)
	return out
}
