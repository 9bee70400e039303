// Package pbftchain implements the append-only chain of PBFT blocks:
// one block per period, each pinning an anchor hash
// and a certified vote set, committed atomically alongside the
// dag_block_period assignments and finalized-block set for its
// anchor's ordered set.
package pbftchain

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dagledger/node/ledger"
	"github.com/dagledger/node/store"
)

// Head is an immutable snapshot of the chain tip, safe to read without
// the extend mutex: reads are lock-free against a snapshot of the head
// descriptor held atomically.
type Head struct {
	Hash   ledger.Hash
	Period uint64
}

// Chain is the append-only PBFT block chain.
type Chain struct {
	db  *store.Store
	log *slog.Logger

	extendMu sync.Mutex
	head     atomic.Pointer[Head]
}

// New loads (or initializes) the chain head from db.
func New(db *store.Store, log *slog.Logger) (*Chain, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Chain{db: db, log: log}

	raw, found, err := db.Get(store.ColPBFTHead, []byte("head"))
	if err != nil {
		return nil, err
	}
	h := &Head{}
	if found {
		if len(raw) != 32+8 {
			return nil, ledger.NewError("pbftchain", ledger.KindCorrupt, "malformed pbft_head record")
		}
		copy(h.Hash[:], raw[:32])
		h.Period = binary.BigEndian.Uint64(raw[32:])
	}
	c.head.Store(h)
	return c, nil
}

// Head returns the current chain tip. The genesis head is the zero
// hash at period 0, mirroring the DAG's genesis sentinel.
func (c *Chain) Head() Head {
	return *c.head.Load()
}

// PBFTBlock retrieves a persisted PBFT block by hash.
func (c *Chain) PBFTBlock(h ledger.Hash) (*ledger.PBFTBlock, bool, error) {
	raw, found, err := c.db.Get(store.ColPBFTBlocks, h[:])
	if err != nil || !found {
		return nil, found, err
	}
	b, err := ledger.DecodePBFTBlock(raw)
	if err != nil {
		return nil, false, ledger.WrapError("pbftchain", ledger.KindCorrupt, "decode pbft block", err)
	}
	return b, true, nil
}

// PeriodBlock retrieves the PBFT block hash finalized for a period.
func (c *Chain) PeriodBlock(period uint64) (ledger.Hash, bool, error) {
	raw, found, err := c.db.Get(store.ColPeriodPBFTBlock, encodePeriod(period))
	if err != nil || !found {
		return ledger.Hash{}, found, err
	}
	var h ledger.Hash
	copy(h[:], raw)
	return h, true, nil
}

// Votes retrieves the certified vote set persisted for a PBFT block.
func (c *Chain) Votes(h ledger.Hash) (*ledger.CertifiedVoteSet, bool, error) {
	raw, found, err := c.db.Get(store.ColVotes, h[:])
	if err != nil || !found {
		return nil, found, err
	}
	vs, err := ledger.DecodeVoteSet(raw)
	if err != nil {
		return nil, false, ledger.WrapError("pbftchain", ledger.KindCorrupt, "decode vote set", err)
	}
	return vs, true, nil
}

// Extend is the chain's sole mutator: it appends P as the
// new head, writing pbft_blocks, period_pbft_block, votes,
// dag_block_period for every block in anchorOrder, dag_finalized_blocks
// for P.Anchor, and pbft_head, all in one atomic batch. Serialized by
// extendMu so no two callers can race on the period-continuity check.
func (c *Chain) Extend(p *ledger.PBFTBlock, cert *ledger.CertifiedVoteSet, anchorOrder []ledger.Hash) error {
	c.extendMu.Lock()
	defer c.extendMu.Unlock()

	head := c.Head()
	if p.Period != head.Period+1 {
		return ledger.NewError("pbftchain", ledger.KindInvariantViolation,
			"extend: period is not head.period+1")
	}
	if p.Parent != head.Hash {
		return ledger.NewError("pbftchain", ledger.KindInvariantViolation,
			"extend: parent does not match head hash")
	}

	h := p.Hash()
	batch := c.db.Batch().
		Put(store.ColPBFTBlocks, h[:], ledger.EncodePBFTBlock(p)).
		Put(store.ColPeriodPBFTBlock, encodePeriod(p.Period), h[:]).
		Put(store.ColVotes, h[:], ledger.EncodeVoteSet(cert)).
		Put(store.ColDAGFinalizedBlocks, p.Anchor[:], ledger.EncodeHashList(anchorOrder))
	for _, b := range anchorOrder {
		batch = batch.Put(store.ColDAGBlockPeriod, b[:], encodePeriod(p.Period))
	}

	newHead := make([]byte, 32+8)
	copy(newHead[:32], h[:])
	binary.BigEndian.PutUint64(newHead[32:], p.Period)
	batch = batch.Put(store.ColPBFTHead, []byte("head"), newHead)

	if err := batch.Commit(); err != nil {
		return err
	}

	c.head.Store(&Head{Hash: h, Period: p.Period})
	return nil
}

// MgrScalar reads a PBFT state-machine scalar from the pbft_mgr
// column. The voting state machine itself lives outside this module;
// it checkpoints its round/step scalars here so a restart resumes
// where it left off.
func (c *Chain) MgrScalar(key string) ([]byte, bool, error) {
	return c.db.Get(store.ColPBFTMgr, []byte(key))
}

// SetMgrScalar persists a PBFT state-machine scalar.
func (c *Chain) SetMgrScalar(key string, value []byte) error {
	return c.db.Insert(store.ColPBFTMgr, []byte(key), value)
}

func encodePeriod(p uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, p)
	return out
}
