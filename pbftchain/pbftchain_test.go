package pbftchain

import (
	"testing"

	"github.com/dagledger/node/ledger"
	"github.com/dagledger/node/store"
)

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	st, err := store.Open(t.TempDir(), store.Config{}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	c, err := New(st, nil)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	return c
}

// Extending from the genesis head with P1(parent=genesis, period=1,
// anchor=b) must commit period_pbft_block[1]=P1.hash and move the head
// to P1.
func TestExtendFromGenesis(t *testing.T) {
	c := newTestChain(t)

	anchorB := ledger.Hash{0xb}
	aHash := ledger.Hash{0xa}
	p1 := &ledger.PBFTBlock{Parent: ledger.Hash{}, Period: 1, Anchor: anchorB, Timestamp: 1}
	order := []ledger.Hash{aHash, anchorB}

	if err := c.Extend(p1, &ledger.CertifiedVoteSet{BlockHash: p1.Hash()}, order); err != nil {
		t.Fatalf("extend: %v", err)
	}

	head := c.Head()
	if head.Period != 1 || head.Hash != p1.Hash() {
		t.Fatalf("unexpected head: %+v", head)
	}

	ph, found, err := c.PeriodBlock(1)
	if err != nil || !found || ph != p1.Hash() {
		t.Fatalf("period_pbft_block[1] mismatch: %v %v %v", ph, found, err)
	}

	for _, b := range order {
		period, found, err := periodOfBlock(c, b)
		if err != nil || !found || period != 1 {
			t.Fatalf("dag_block_period for %v mismatch: %d %v %v", b, period, found, err)
		}
	}
}

func TestExtendRejectsWrongPeriod(t *testing.T) {
	c := newTestChain(t)
	bad := &ledger.PBFTBlock{Parent: ledger.Hash{}, Period: 2, Anchor: ledger.Hash{0x1}}
	if err := c.Extend(bad, &ledger.CertifiedVoteSet{}, nil); err == nil {
		t.Fatalf("expected period mismatch error")
	}
}

func TestExtendRejectsWrongParent(t *testing.T) {
	c := newTestChain(t)
	bad := &ledger.PBFTBlock{Parent: ledger.Hash{0x9}, Period: 1, Anchor: ledger.Hash{0x1}}
	if err := c.Extend(bad, &ledger.CertifiedVoteSet{}, nil); err == nil {
		t.Fatalf("expected parent mismatch error")
	}
}

func periodOfBlock(c *Chain, b ledger.Hash) (uint64, bool, error) {
	raw, found, err := c.db.Get(store.ColDAGBlockPeriod, b[:])
	if err != nil || !found {
		return 0, found, err
	}
	return decodePeriodForTest(raw), true, nil
}

func decodePeriodForTest(b []byte) uint64 {
	var p uint64
	for _, x := range b {
		p = p<<8 | uint64(x)
	}
	return p
}

func TestMgrScalarRoundTrip(t *testing.T) {
	c := newTestChain(t)
	if _, found, err := c.MgrScalar("round"); err != nil || found {
		t.Fatalf("expected absent scalar, got found=%v err=%v", found, err)
	}
	if err := c.SetMgrScalar("round", []byte{0x2a}); err != nil {
		t.Fatalf("set scalar: %v", err)
	}
	v, found, err := c.MgrScalar("round")
	if err != nil || !found || len(v) != 1 || v[0] != 0x2a {
		t.Fatalf("scalar round-trip failed: %v %v %v", v, found, err)
	}
}
