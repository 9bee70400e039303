package txpool

import (
	"testing"

	"github.com/dagledger/node/ledger"
	"github.com/dagledger/node/store"
)

type trustingVerifier struct{}

func (trustingVerifier) Verify(t *ledger.Transaction) (ledger.Address, error) {
	return t.Sender, nil
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	st, err := store.Open(t.TempDir(), store.Config{}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, trustingVerifier{}, Config{}, nil)
}

// Insert three transactions with distinct senders into an empty pool
// (trusted, i.e. verify=false so no async race with workers); call
// snapshot(0); expect all three in the snapshot and verified size
// becomes 0 after the move-variant snapshot. The snapshot is a map, so
// this test checks membership only, not insertion order.
func TestSnapshotInsertionOrder(t *testing.T) {
	p := newTestPool(t)

	t1 := &ledger.Transaction{Sender: ledger.Address{0x1}, Nonce: 1}
	t2 := &ledger.Transaction{Sender: ledger.Address{0x2}, Nonce: 1}
	t3 := &ledger.Transaction{Sender: ledger.Address{0x3}, Nonce: 1}

	for _, tx := range []*ledger.Transaction{t1, t2, t3} {
		if err := p.Insert(tx, false); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if v, u := p.Size(); v != 3 || u != 0 {
		t.Fatalf("expected 3 verified / 0 unverified, got %d/%d", v, u)
	}

	snap := p.Snapshot(0, true)
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries in snapshot, got %d", len(snap))
	}
	for _, tx := range []*ledger.Transaction{t1, t2, t3} {
		if _, ok := snap[tx.Hash()]; !ok {
			t.Fatalf("missing transaction %s in snapshot", tx.Hash())
		}
	}

	if v, _ := p.Size(); v != 0 {
		t.Fatalf("expected verified size 0 after move-snapshot, got %d", v)
	}
}

func TestInsertDuplicateHashIsNoOp(t *testing.T) {
	p := newTestPool(t)
	tx := &ledger.Transaction{Sender: ledger.Address{0x1}, Nonce: 1}
	if err := p.Insert(tx, false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := p.Insert(tx, false); err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	if v, _ := p.Size(); v != 1 {
		t.Fatalf("expected size 1 after duplicate insert, got %d", v)
	}
}

func TestCopySnapshotDoesNotRemove(t *testing.T) {
	p := newTestPool(t)
	tx := &ledger.Transaction{Sender: ledger.Address{0x1}, Nonce: 1}
	if err := p.Insert(tx, false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	snap := p.Snapshot(0, false)
	if len(snap) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snap))
	}
	if v, _ := p.Size(); v != 1 {
		t.Fatalf("copy-variant snapshot should not remove entries, got size %d", v)
	}
}

func TestStopRejectsNewInserts(t *testing.T) {
	p := newTestPool(t)
	p.Stop()
	tx := &ledger.Transaction{Sender: ledger.Address{0x1}, Nonce: 1}
	if err := p.Insert(tx, false); !ledger.Is(err, ledger.KindShuttingDown) {
		t.Fatalf("expected shutting-down error, got %v", err)
	}
}

// Trusted admission persists the transaction and its in_pool status so
// the executor can later fetch it by hash.
func TestTrustedInsertPersistsTransaction(t *testing.T) {
	st, err := store.Open(t.TempDir(), store.Config{}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	p := New(st, trustingVerifier{}, Config{}, nil)

	tx := &ledger.Transaction{Sender: ledger.Address{0x1}, Nonce: 7, Gas: 21000}
	if err := p.Insert(tx, false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	h := tx.Hash()

	raw, found, err := st.Get(store.ColTransactions, h[:])
	if err != nil || !found {
		t.Fatalf("transaction not persisted: found=%v err=%v", found, err)
	}
	decoded, err := ledger.DecodeTransaction(raw)
	if err != nil {
		t.Fatalf("decode persisted transaction: %v", err)
	}
	if decoded.Nonce != tx.Nonce || decoded.Sender != tx.Sender {
		t.Fatalf("persisted transaction does not round-trip: %+v", decoded)
	}

	status, found, err := st.Get(store.ColTrxStatus, h[:])
	if err != nil || !found || ledger.TxStatus(status[0]) != ledger.StatusInPool {
		t.Fatalf("expected in_pool status, got %v found=%v err=%v", status, found, err)
	}
	if !p.Healthy() {
		t.Fatalf("pool should be healthy after a successful persist")
	}
}

func TestPoolHealthDegradesOnStorageFailure(t *testing.T) {
	st, err := store.Open(t.TempDir(), store.Config{}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	p := New(st, trustingVerifier{}, Config{}, nil)
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	tx := &ledger.Transaction{Sender: ledger.Address{0x1}, Nonce: 1}
	if err := p.Insert(tx, false); err != nil {
		t.Fatalf("insert should not fail on a persistence error: %v", err)
	}
	if p.Healthy() {
		t.Fatalf("pool should report unhealthy after persistence failure")
	}
	if v, _ := p.Size(); v != 1 {
		t.Fatalf("in-memory admission should survive a persistence failure, got %d", v)
	}
}
