package dagstore

import (
	"sort"

	"github.com/dagledger/node/ledger"
	"github.com/dagledger/node/store"
)

// OrderForAnchor computes the ordered set for an anchor:
// past(anchor) minus any block already marked finalized (which
// subsumes past(prevAnchor), since that entire set was flipped to
// finalized when prevAnchor was processed), sorted by (level asc,
// pivot-predecessor-first, hash asc), then persists
// dag_finalized_blocks[anchor] and flips the state flag for every
// block in the result to true in one atomic batch.
func (s *Store) OrderForAnchor(anchor ledger.Hash) ([]ledger.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pivotSet := make(map[ledger.Hash]bool, len(s.pivotChain))
	for _, h := range s.pivotChain {
		pivotSet[h] = true
	}

	visited := make(map[ledger.Hash]bool)
	var frontier []ledger.Hash
	var past []ledger.Hash

	if anchor != genesisSentinel {
		frontier = append(frontier, anchor)
	}
	for len(frontier) > 0 {
		h := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if visited[h] || h == genesisSentinel {
			continue
		}
		visited[h] = true
		if s.finalized[h] {
			continue
		}
		past = append(past, h)
		n, ok := s.nodes[h]
		if !ok {
			continue
		}
		for _, p := range n.block.Parents() {
			if p.IsZero() || visited[p] {
				continue
			}
			frontier = append(frontier, p)
		}
	}

	sort.Slice(past, func(i, j int) bool {
		a, b := past[i], past[j]
		la, lb := s.levelOfLocked(a), s.levelOfLocked(b)
		if la != lb {
			return la < lb
		}
		pa, pb := pivotSet[a], pivotSet[b]
		if pa != pb {
			return pa // pivot predecessor sorts first
		}
		return a.Less(b)
	})

	batch := s.db.Batch().Put(store.ColDAGFinalizedBlocks, anchor[:], encodeHashList(past))
	for _, h := range past {
		batch = batch.Put(store.ColDAGBlocksState, h[:], []byte{1})
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	for _, h := range past {
		s.finalized[h] = true
	}
	return past, nil
}

func encodeHashList(hs []ledger.Hash) []byte {
	return ledger.EncodeHashList(hs)
}
