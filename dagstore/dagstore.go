// Package dagstore implements the in-memory DAG index over persisted
// blocks: admission, the level index, the pivot chain,
// anchor selection and causal-past ordering. The durable store owns
// all persistent state, so New() always reconstructs the index from it
// rather than trusting a snapshot of its own.
//
// The node struct/weight-cache split is grounded on the fork-choice
// store shape in the reference fork-choice implementation surveyed in
// DESIGN.md (one node per block, parent/children pointers, a cached
// weight), adapted from validator-balance weight to DAG subtree
// weight (count of descendants including itself).
package dagstore

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dagledger/node/ledger"
	"github.com/dagledger/node/store"

	"golang.org/x/sync/singleflight"
)

type node struct {
	block    *ledger.DAGBlock
	children []ledger.Hash
	weight   uint64 // count of descendants including itself
}

// Store is the in-memory DAG index. All structural state is guarded
// by mu; persistence calls happen while holding the write lock so the
// index and the durable store never drift apart.
//
// The genesis sentinel (the zero Hash) is represented by a
// virtual root node that is never persisted: it has no ledger.DAGBlock
// of its own, only children, so the pivot-chain walk can start "before"
// the first real block.
type Store struct {
	db      *store.Store
	log     *slog.Logger
	horizon uint64

	mu         sync.RWMutex
	nodes      map[ledger.Hash]*node
	finalized  map[ledger.Hash]bool
	pivotChain []ledger.Hash

	pivotSF singleflight.Group
}

var genesisSentinel = ledger.Hash{}

// New reconstructs the in-memory graph from db's persisted level
// index. horizon is the finalization horizon used by anchor selection:
// a candidate anchor's level must be at most tip.level-horizon.
func New(db *store.Store, horizon uint64, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		db:        db,
		log:       log,
		horizon:   horizon,
		nodes:     map[ledger.Hash]*node{genesisSentinel: {}},
		finalized: make(map[ledger.Hash]bool),
	}
	if err := s.rebuildFromStore(); err != nil {
		return nil, err
	}
	return s, nil
}

// rebuildFromStore reconstructs the graph by walking the persisted
// level index: its composite (level, hash) keys iterate in level
// order, so every parent is admitted before its children without an
// explicit sort.
func (s *Store) rebuildFromStore() error {
	if err := s.db.ForEach(store.ColDAGBlocksIndex, func(k, _ []byte) error {
		level, h, err := parseLevelIndexKey(k)
		if err != nil {
			return err
		}
		raw, found, err := s.db.Get(store.ColDAGBlocks, h[:])
		if err != nil {
			return err
		}
		if !found {
			return ledger.NewError("dagstore", ledger.KindCorrupt,
				fmt.Sprintf("level index references missing dag block %s", h))
		}
		b, err := ledger.DecodeDAGBlock(raw)
		if err != nil {
			return ledger.WrapError("dagstore", ledger.KindCorrupt,
				fmt.Sprintf("decode dag block %s", h), err)
		}
		if b.Level != level {
			return ledger.NewError("dagstore", ledger.KindCorrupt,
				fmt.Sprintf("level index entry %d disagrees with block %s level %d", level, h, b.Level))
		}
		s.admit(h, b)
		return nil
	}); err != nil {
		return err
	}
	if err := s.db.ForEach(store.ColDAGBlocksState, func(k, v []byte) error {
		var h ledger.Hash
		copy(h[:], k)
		s.finalized[h] = len(v) > 0 && v[0] != 0
		return nil
	}); err != nil {
		return err
	}
	s.recomputePivotChainLocked()
	return nil
}

// admit wires a block into the in-memory graph (nodes, children,
// weight) without touching the store. Callers must already hold a
// suitable lock or be in single-threaded rebuild.
func (s *Store) admit(h ledger.Hash, b *ledger.DAGBlock) {
	n := &node{block: b}
	s.nodes[h] = n
	for _, p := range b.Parents() {
		if pn, ok := s.nodes[p]; ok {
			pn.children = append(pn.children, h)
		}
	}
	s.bumpWeightLocked(h)
}

// bumpWeightLocked adds 1 to h's own weight and propagates it up
// through pivot/tip ancestors, since weight is "total descendants
// including itself" and a new block is a descendant of every ancestor
// reachable via parent edges.
func (s *Store) bumpWeightLocked(h ledger.Hash) {
	visited := make(map[ledger.Hash]bool)
	var walk func(ledger.Hash)
	walk = func(cur ledger.Hash) {
		if visited[cur] {
			return
		}
		visited[cur] = true
		n, ok := s.nodes[cur]
		if !ok {
			return
		}
		n.weight++
		for _, p := range n.block.Parents() {
			if !p.IsZero() {
				walk(p)
			}
		}
	}
	walk(h)
}

// AddBlock admits a new DAG block: all parents must already be
// known (or be the genesis sentinel); level must equal
// 1+max(level(parents)); the block persists to dag_blocks, the level
// index, dag_blocks_state=false, and the dag_blk_count/dag_edge_count
// counters in one batch.
func (s *Store) AddBlock(b *ledger.DAGBlock) (ledger.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := b.Hash()
	if _, exists := s.nodes[h]; exists {
		return h, nil // already admitted; idempotent no-op
	}

	parents := b.Parents()
	if err := validateParents(parents, h); err != nil {
		return ledger.Hash{}, err
	}

	maxParentLevel := uint64(0)
	haveNonGenesisParent := false
	for _, p := range parents {
		if p.IsZero() {
			continue
		}
		pn, ok := s.nodes[p]
		if !ok {
			return ledger.Hash{}, ledger.NewError("dagstore", ledger.KindInvariantViolation,
				fmt.Sprintf("unknown parent %s", p))
		}
		haveNonGenesisParent = true
		if pn.block.Level > maxParentLevel {
			maxParentLevel = pn.block.Level
		}
	}
	wantLevel := maxParentLevel + 1
	if !haveNonGenesisParent {
		wantLevel = 1
	}
	if h != genesisSentinel && b.Level != wantLevel {
		return ledger.Hash{}, ledger.NewError("dagstore", ledger.KindInvariantViolation,
			fmt.Sprintf("block %s level %d != expected %d", h, b.Level, wantLevel))
	}

	edgeCount := 0
	for _, p := range parents {
		if !p.IsZero() {
			edgeCount++
		}
	}

	blkCount, err := s.db.DAGBlockCount()
	if err != nil {
		return ledger.Hash{}, err
	}
	edgeTotal, err := s.db.DAGEdgeCount()
	if err != nil {
		return ledger.Hash{}, err
	}

	batch := s.db.Batch().
		Put(store.ColDAGBlocks, h[:], ledger.EncodeDAGBlock(b)).
		Put(store.ColDAGBlocksIndex, levelIndexKey(b.Level, h), []byte{}).
		Put(store.ColDAGBlocksState, h[:], []byte{0}).
		PutCounter("dag_blk_count", blkCount+1).
		PutCounter("dag_edge_count", edgeTotal+uint64(edgeCount))

	// Advance each carried transaction to in_block, but never move a
	// status backwards (finalized and reverted are past in_block).
	if len(b.Transactions) > 0 {
		keys := make([][]byte, len(b.Transactions))
		for i, th := range b.Transactions {
			keys[i] = th[:]
		}
		statuses, err := s.db.MultiGet(store.ColTrxStatus, keys)
		if err != nil {
			return ledger.Hash{}, err
		}
		for i, th := range b.Transactions {
			cur := ledger.StatusNotSeen
			if len(statuses[i]) > 0 {
				cur = ledger.TxStatus(statuses[i][0])
			}
			if cur < ledger.StatusInBlock {
				batch = batch.Put(store.ColTrxStatus, th[:], []byte{byte(ledger.StatusInBlock)})
			}
		}
	}

	if err := batch.Commit(); err != nil {
		return ledger.Hash{}, err
	}

	s.admit(h, b)
	s.recomputePivotChainLocked()
	return h, nil
}

func validateParents(parents []ledger.Hash, self ledger.Hash) error {
	seen := make(map[ledger.Hash]bool, len(parents))
	for _, p := range parents {
		if p == self {
			return ledger.NewError("dagstore", ledger.KindInvariantViolation, "block references itself as a parent")
		}
		if seen[p] {
			return ledger.NewError("dagstore", ledger.KindInvariantViolation, "duplicate parent reference")
		}
		seen[p] = true
	}
	return nil
}

func levelIndexKey(level uint64, h ledger.Hash) []byte {
	key := make([]byte, 8+len(h))
	binary.BigEndian.PutUint64(key[:8], level)
	copy(key[8:], h[:])
	return key
}

func parseLevelIndexKey(key []byte) (uint64, ledger.Hash, error) {
	var h ledger.Hash
	if len(key) != 8+len(h) {
		return 0, h, ledger.NewError("dagstore", ledger.KindCorrupt, "malformed level index key")
	}
	copy(h[:], key[8:])
	return binary.BigEndian.Uint64(key[:8]), h, nil
}

// Block returns the DAG block for h, if known.
func (s *Store) Block(h ledger.Hash) (*ledger.DAGBlock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[h]
	if !ok {
		return nil, false
	}
	return n.block, true
}

// BlocksAtLevel returns up to n consecutive levels' contents starting
// at level l, as level -> hash list, read from the persisted level
// index. The composite (level, hash) keys make this a single ordered
// range scan, with hashes ascending within each level.
func (s *Store) BlocksAtLevel(l uint64, n int) (map[uint64][]ledger.Hash, error) {
	out := make(map[uint64][]ledger.Hash, n)
	if n <= 0 {
		return out, nil
	}
	from := levelIndexKey(l, ledger.Hash{})
	to := levelIndexKey(l+uint64(n), ledger.Hash{})
	err := s.db.SeekRange(store.ColDAGBlocksIndex, from, to, func(k, _ []byte) error {
		level, h, err := parseLevelIndexKey(k)
		if err != nil {
			return err
		}
		out[level] = append(out[level], h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AllBlockStates returns a snapshot of the finalized flag for every
// known block.
func (s *Store) AllBlockStates() map[ledger.Hash]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ledger.Hash]bool, len(s.finalized))
	for h, f := range s.finalized {
		out[h] = f
	}
	return out
}

// BlockPeriod returns the period the block was assigned to, as
// persisted by the PBFT chain's extend() call.
func (s *Store) BlockPeriod(h ledger.Hash) (period uint64, found bool, err error) {
	v, found, err := s.db.Get(store.ColDAGBlockPeriod, h[:])
	if err != nil || !found {
		return 0, found, err
	}
	p := binary.BigEndian.Uint64(v)
	return p, true, nil
}
