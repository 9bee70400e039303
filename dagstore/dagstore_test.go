package dagstore

import (
	"testing"

	"github.com/dagledger/node/ledger"
	"github.com/dagledger/node/store"
)

func newTestDagStore(t *testing.T, horizon uint64) *Store {
	t.Helper()
	st, err := store.Open(t.TempDir(), store.Config{}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ds, err := New(st, horizon, nil)
	if err != nil {
		t.Fatalf("new dagstore: %v", err)
	}
	return ds
}

func mustAdd(t *testing.T, ds *Store, b *ledger.DAGBlock) ledger.Hash {
	t.Helper()
	h, err := ds.AddBlock(b)
	if err != nil {
		t.Fatalf("add block: %v", err)
	}
	return h
}

// Build g -> a -> b, g -> c, pivoted by subtree weight; expect pivot chain
// [g, a, b], anchor at horizon 0 is b, and order_for_anchor(b) given
// previous anchor g (genesis) is [a, b].
func TestPivotChainAnchorAndOrdering(t *testing.T) {
	ds := newTestDagStore(t, 0)

	a := &ledger.DAGBlock{Pivot: genesisSentinel, Level: 1, Timestamp: 1}
	aHash := mustAdd(t, ds, a)

	c := &ledger.DAGBlock{Pivot: genesisSentinel, Level: 1, Timestamp: 2}
	mustAdd(t, ds, c)

	b := &ledger.DAGBlock{Pivot: aHash, Level: 2, Timestamp: 3}
	bHash := mustAdd(t, ds, b)

	chain := ds.PivotChain()
	if len(chain) != 3 || chain[0] != genesisSentinel || chain[1] != aHash || chain[2] != bHash {
		t.Fatalf("expected pivot chain [g,a,b], got %v", chain)
	}

	anchor, found := ds.NextAnchor(0)
	if !found || anchor != bHash {
		t.Fatalf("expected anchor b, got %v found=%v", anchor, found)
	}

	order, err := ds.OrderForAnchor(anchor)
	if err != nil {
		t.Fatalf("order_for_anchor: %v", err)
	}
	if len(order) != 2 || order[0] != aHash || order[1] != bHash {
		t.Fatalf("expected order [a,b], got %v", order)
	}

	states := ds.AllBlockStates()
	if !states[aHash] || !states[bHash] {
		t.Fatalf("expected a and b to be marked finalized, got %v", states)
	}
}

// TestAnchorSelectionWithNoEligiblePivotReturnsNotFound covers the
// boundary behavior: no pivot-chain block deep enough yet.
func TestAnchorSelectionWithNoEligiblePivotReturnsNotFound(t *testing.T) {
	ds := newTestDagStore(t, 5)
	a := &ledger.DAGBlock{Pivot: genesisSentinel, Level: 1}
	mustAdd(t, ds, a)

	_, found := ds.NextAnchor(0)
	if found {
		t.Fatalf("expected no anchor when tip level < horizon")
	}
}

func TestAddBlockRejectsWrongLevel(t *testing.T) {
	ds := newTestDagStore(t, 0)
	bad := &ledger.DAGBlock{Pivot: genesisSentinel, Level: 2}
	if _, err := ds.AddBlock(bad); err == nil {
		t.Fatalf("expected level mismatch error")
	}
}

func TestAddBlockIsIdempotent(t *testing.T) {
	ds := newTestDagStore(t, 0)
	blk := &ledger.DAGBlock{Pivot: genesisSentinel, Level: 1, Timestamp: 9}
	h1 := mustAdd(t, ds, blk)
	h2 := mustAdd(t, ds, blk)
	if h1 != h2 {
		t.Fatalf("expected same hash on repeat insert")
	}
}

func TestRebuildFromStoreReproducesPivotChain(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir, store.Config{}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ds, err := New(st, 0, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a := &ledger.DAGBlock{Pivot: genesisSentinel, Level: 1}
	aHash := mustAdd(t, ds, a)
	b := &ledger.DAGBlock{Pivot: aHash, Level: 2}
	bHash := mustAdd(t, ds, b)
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st2, err := store.Open(dir, store.Config{}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	ds2, err := New(st2, 0, nil)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	chain := ds2.PivotChain()
	if len(chain) != 3 || chain[1] != aHash || chain[2] != bHash {
		t.Fatalf("rebuilt pivot chain mismatch: %v", chain)
	}
}

// BlocksAtLevel reads the persisted level index: a single range scan
// over the composite (level, hash) keys, hashes ascending per level.
func TestBlocksAtLevelScansPersistedIndex(t *testing.T) {
	ds := newTestDagStore(t, 0)

	a := &ledger.DAGBlock{Pivot: genesisSentinel, Level: 1, Timestamp: 1}
	aHash := mustAdd(t, ds, a)
	b := &ledger.DAGBlock{Pivot: genesisSentinel, Level: 1, Timestamp: 2}
	bHash := mustAdd(t, ds, b)
	c := &ledger.DAGBlock{Pivot: aHash, Level: 2, Timestamp: 3}
	cHash := mustAdd(t, ds, c)

	got, err := ds.BlocksAtLevel(1, 2)
	if err != nil {
		t.Fatalf("blocks at level: %v", err)
	}
	if len(got) != 2 || len(got[1]) != 2 || len(got[2]) != 1 {
		t.Fatalf("unexpected level contents: %v", got)
	}
	first, second := aHash, bHash
	if second.Less(first) {
		first, second = second, first
	}
	if got[1][0] != first || got[1][1] != second {
		t.Fatalf("level 1 hashes should be ascending, got %v", got[1])
	}
	if got[2][0] != cHash {
		t.Fatalf("level 2 should hold c, got %v", got[2])
	}

	empty, err := ds.BlocksAtLevel(3, 2)
	if err != nil {
		t.Fatalf("blocks at empty levels: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no entries past the tip, got %v", empty)
	}
}
