package settlement

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine() *Engine {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewEngine("devnet", logger)
}

func TestWallet_SeededOnFirstUse(t *testing.T) {
	e := newEngine()

	w := e.Wallet("architect")
	assert.Equal(t, "architect", w.AgentID)
	assert.Len(t, w.PublicKey, 44)
	assert.Equal(t, "devnet", w.Network)
	assert.Equal(t, SeedBalanceUSDC, e.Balance("architect"))

	// Deterministic address: same agent always derives the same wallet.
	assert.Equal(t, w.PublicKey, e.Wallet("architect").PublicKey)
}

func TestSettle_ConfirmedMovesBalance(t *testing.T) {
	e := newEngine()

	r := e.Settle("architect", "governor", 0.41, "")
	assert.Equal(t, "confirmed", r.Status)
	assert.Len(t, r.TxSignature, 88)
	assert.Len(t, r.BlockHash, 64)
	assert.Contains(t, r.Memo, "A2A service fee")
	assert.InDelta(t, SeedBalanceUSDC-0.41, e.Balance("architect"), 1e-9)
	assert.InDelta(t, SeedBalanceUSDC+0.41, e.Balance("governor"), 1e-9)
}

func TestSettle_InsufficientBalanceFailsWithReceipt(t *testing.T) {
	e := newEngine()

	r := e.Settle("architect", "governor", SeedBalanceUSDC*2, "")
	assert.Equal(t, "failed", r.Status)
	assert.Equal(t, "Insufficient USDC balance", r.Memo)
	assert.Empty(t, r.BlockHash)

	// The failed attempt still lands in the ledger; balances untouched.
	assert.Len(t, e.Ledger(), 1)
	assert.Equal(t, SeedBalanceUSDC, e.Balance("architect"))
}

func TestByTxAndByAgent(t *testing.T) {
	e := newEngine()
	r1 := e.Settle("architect", "governor", 1, "fee")
	e.Settle("detector", "jurist", 2, "other")

	found, ok := e.ByTx(r1.TxSignature)
	require.True(t, ok)
	assert.Equal(t, "fee", found.Memo)

	_, ok = e.ByTx("missing")
	assert.False(t, ok)

	assert.Len(t, e.ByAgent("governor"), 1)
	assert.Len(t, e.ByAgent("jurist"), 1)
	assert.Empty(t, e.ByAgent("finalizer"))
}
