package dagstore

import (
	"fmt"

	"github.com/dagledger/node/ledger"
)

// recomputePivotChainLocked rebuilds the cached pivot chain by
// walking from the genesis sentinel and, at each step, choosing among
// children the one with the highest subtree weight, tie-broken by
// lexicographically smallest hash. Callers must hold s.mu for writing.
func (s *Store) recomputePivotChainLocked() {
	chain := []ledger.Hash{genesisSentinel}
	cur := genesisSentinel
	for {
		n, ok := s.nodes[cur]
		if !ok || len(n.children) == 0 {
			break
		}
		best := n.children[0]
		bestWeight := s.nodes[best].weight
		for _, c := range n.children[1:] {
			cw := s.nodes[c].weight
			if cw > bestWeight || (cw == bestWeight && c.Less(best)) {
				best = c
				bestWeight = cw
			}
		}
		chain = append(chain, best)
		cur = best
	}
	s.pivotChain = chain
}

// PivotChain returns the current pivot chain from the genesis sentinel
// to the tip. The chain is recomputed on every admission and on
// rebuild; this call only copies the cached chain, with a singleflight
// group coalescing concurrent callers into one copy. Callers may be any
// thread.
func (s *Store) PivotChain() []ledger.Hash {
	v, _, _ := s.pivotSF.Do("pivot", func() (interface{}, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		cp := append([]ledger.Hash(nil), s.pivotChain...)
		return cp, nil
	})
	chain, _ := v.([]ledger.Hash)
	return chain
}

// PivotTip returns the current pivot chain's tip block hash and level.
func (s *Store) PivotTip() (ledger.Hash, uint64, error) {
	chain := s.PivotChain()
	if len(chain) == 0 {
		return ledger.Hash{}, 0, fmt.Errorf("dagstore: empty pivot chain")
	}
	tip := chain[len(chain)-1]
	if tip == genesisSentinel {
		return tip, 0, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[tip]
	if !ok {
		return tip, 0, fmt.Errorf("dagstore: pivot tip %s not indexed", tip)
	}
	return tip, n.block.Level, nil
}

// levelOfLocked returns the level of h, treating the genesis sentinel
// as level 0. Callers must hold s.mu.
func (s *Store) levelOfLocked(h ledger.Hash) uint64 {
	if h == genesisSentinel {
		return 0
	}
	if n, ok := s.nodes[h]; ok && n.block != nil {
		return n.block.Level
	}
	return 0
}
