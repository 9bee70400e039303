package dagstore

import "github.com/dagledger/node/ledger"

// NextAnchor selects the next anchor: given the previous anchor's
// level, it is the deepest pivot-chain
// block whose level is at most tip.level-horizon and whose level is
// greater than prevAnchorLevel. found is false if no such block
// exists yet (the round proposes no anchor).
func (s *Store) NextAnchor(prevAnchorLevel uint64) (anchor ledger.Hash, found bool) {
	chain := s.PivotChain()
	if len(chain) == 0 {
		return ledger.Hash{}, false
	}

	s.mu.RLock()
	tipLevel := s.levelOfLocked(chain[len(chain)-1])
	s.mu.RUnlock()

	if tipLevel < s.horizon {
		return ledger.Hash{}, false
	}
	ceiling := tipLevel - s.horizon

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(chain) - 1; i >= 0; i-- {
		h := chain[i]
		lvl := s.levelOfLocked(h)
		if lvl > ceiling {
			continue
		}
		if lvl <= prevAnchorLevel {
			break
		}
		return h, true
	}
	return ledger.Hash{}, false
}
