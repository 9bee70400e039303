package node

import (
	"context"
	"testing"
	"time"

	"github.com/dagledger/node/executor"
	"github.com/dagledger/node/ledger"
)

type trustingVerifier struct{}

func (trustingVerifier) Verify(t *ledger.Transaction) (ledger.Address, error) {
	return t.Sender, nil
}

type noopApply struct{}

func (noopApply) Apply(ctx context.Context, period uint64, txs []*ledger.Transaction) (ledger.Hash, []executor.Receipt, error) {
	return ledger.Hash{}, nil, nil
}

func TestNodeStartStopLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()

	n, err := New(cfg, trustingVerifier{}, noopApply{}, nil, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	n.Start(context.Background())
	time.Sleep(10 * time.Millisecond)

	if err := n.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.LogLevel = "not-a-level"

	if _, err := New(cfg, trustingVerifier{}, noopApply{}, nil, nil); err == nil {
		t.Fatalf("expected validation error for bad log level")
	}
}
