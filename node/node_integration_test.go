package node

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dagledger/node/executor"
	"github.com/dagledger/node/ledger"
	"github.com/dagledger/node/store"
)

type countingApply struct {
	mu      sync.Mutex
	applied map[uint64]int // period -> transactions the state machine saw
}

func (c *countingApply) Apply(ctx context.Context, period uint64, txs []*ledger.Transaction) (ledger.Hash, []executor.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applied == nil {
		c.applied = make(map[uint64]int)
	}
	c.applied[period] = len(txs)
	receipts := make([]executor.Receipt, len(txs))
	for i, tx := range txs {
		receipts[i] = executor.Receipt{TxHash: tx.Hash(), Status: ledger.StatusFinalized, GasUsed: tx.Gas}
	}
	return ledger.Hash{byte(period)}, receipts, nil
}

func (c *countingApply) seen(period uint64) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.applied[period]
	return n, ok
}

type recordingSubscriber struct {
	mu   sync.Mutex
	seen []executor.FinalizedBlock
}

func (r *recordingSubscriber) OnFinalizedBlock(fb executor.FinalizedBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, fb)
}

func (r *recordingSubscriber) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func waitForExecuted(t *testing.T, n *Node, want uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := n.Store.NumExecutedBlocks()
		if err != nil {
			t.Fatalf("read num_executed_blocks: %v", err)
		}
		if got >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for num_executed_blocks=%d", want)
}

// TestNodePipelineEndToEnd drives the whole ordering core through two
// periods against a real on-disk store: admission, proposal snapshot,
// DAG growth, anchor ordering, PBFT extension, execution, replay
// rejection, receipts, status flips and snapshot creation.
func TestNodePipelineEndToEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.SnapshotStride = 2
	cfg.MaxSnapshots = 2
	cfg.FinalizationHorizon = 0
	cfg.ReplayWindow = 8
	cfg.TxPoolWorkers = 1

	apply := &countingApply{}
	sub := &recordingSubscriber{}
	n, err := New(cfg, trustingVerifier{}, apply, sub, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	n.Start(context.Background())
	defer func() {
		if err := n.Stop(); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}()

	// Period 1: one transaction, carried by DAG block a.
	tx1 := &ledger.Transaction{Sender: ledger.Address{0xaa}, Nonce: 1, Gas: 21000}
	if err := n.Pool.Insert(tx1, false); err != nil {
		t.Fatalf("insert tx1: %v", err)
	}
	proposal := n.ProposalTransactions()
	if _, ok := proposal[tx1.Hash()]; !ok || len(proposal) != 1 {
		t.Fatalf("proposal snapshot should contain exactly tx1, got %d entries", len(proposal))
	}

	blkA := &ledger.DAGBlock{Level: 1, Timestamp: 1, Transactions: []ledger.Hash{tx1.Hash()}}
	aHash, err := n.DAG.AddBlock(blkA)
	if err != nil {
		t.Fatalf("add block a: %v", err)
	}

	anchor1, found := n.DAG.NextAnchor(0)
	if !found || anchor1 != aHash {
		t.Fatalf("expected anchor a, got %v found=%v", anchor1, found)
	}
	order1, err := n.DAG.OrderForAnchor(anchor1)
	if err != nil {
		t.Fatalf("order for anchor 1: %v", err)
	}
	p1 := &ledger.PBFTBlock{Period: 1, Anchor: anchor1, Timestamp: 10}
	if err := n.ExtendAndNotify(p1, &ledger.CertifiedVoteSet{BlockHash: p1.Hash()}, order1); err != nil {
		t.Fatalf("extend period 1: %v", err)
	}
	waitForExecuted(t, n, 1)

	if got, ok := apply.seen(1); !ok || got != 1 {
		t.Fatalf("state transition should have seen 1 transaction in period 1, got %d", got)
	}
	if r, found, err := n.Executor.Receipt(tx1.Hash()); err != nil || !found || r.GasUsed != tx1.Gas {
		t.Fatalf("receipt for tx1 missing or wrong: %+v found=%v err=%v", r, found, err)
	}
	status, found, err := n.Store.Get(store.ColTrxStatus, hashKey(tx1.Hash()))
	if err != nil || !found || ledger.TxStatus(status[0]) != ledger.StatusFinalized {
		t.Fatalf("tx1 status should be finalized, got %v found=%v err=%v", status, found, err)
	}
	if period, found, err := n.DAG.BlockPeriod(aHash); err != nil || !found || period != 1 {
		t.Fatalf("dag_block_period[a] should be 1, got %d found=%v err=%v", period, found, err)
	}

	// Period 2: a replay of (sender, nonce) from period 1, carried by b.
	tx2 := &ledger.Transaction{Sender: ledger.Address{0xaa}, Nonce: 1, Gas: 21000, GasPrice: 5}
	if err := n.Pool.Insert(tx2, false); err != nil {
		t.Fatalf("insert tx2: %v", err)
	}
	blkB := &ledger.DAGBlock{Pivot: aHash, Level: 2, Timestamp: 2, Transactions: []ledger.Hash{tx2.Hash()}}
	bHash, err := n.DAG.AddBlock(blkB)
	if err != nil {
		t.Fatalf("add block b: %v", err)
	}

	anchor2, found := n.DAG.NextAnchor(1)
	if !found || anchor2 != bHash {
		t.Fatalf("expected anchor b, got %v found=%v", anchor2, found)
	}
	order2, err := n.DAG.OrderForAnchor(anchor2)
	if err != nil {
		t.Fatalf("order for anchor 2: %v", err)
	}
	p2 := &ledger.PBFTBlock{Parent: p1.Hash(), Period: 2, Anchor: anchor2, Timestamp: 20}
	if err := n.ExtendAndNotify(p2, &ledger.CertifiedVoteSet{BlockHash: p2.Hash()}, order2); err != nil {
		t.Fatalf("extend period 2: %v", err)
	}
	waitForExecuted(t, n, 2)

	if got, ok := apply.seen(2); !ok || got != 0 {
		t.Fatalf("replayed transaction must not reach the state transition, got %d", got)
	}
	status, found, err = n.Store.Get(store.ColTrxStatus, hashKey(tx2.Hash()))
	if err != nil || !found || ledger.TxStatus(status[0]) != ledger.StatusReverted {
		t.Fatalf("tx2 status should be reverted, got %v found=%v err=%v", status, found, err)
	}
	if v, _ := n.Pool.Size(); v != 0 {
		t.Fatalf("executed and replayed transactions should be gone from the pool, got %d", v)
	}
	if sub.count() != 2 {
		t.Fatalf("expected 2 finalized-block notifications, got %d", sub.count())
	}

	// SnapshotStride=2: period 2's execution produced db2 on disk.
	if _, err := os.Stat(filepath.Join(cfg.DataDir, "db2")); err != nil {
		t.Fatalf("expected snapshot directory db2: %v", err)
	}
}

func hashKey(h ledger.Hash) []byte { return h[:] }
