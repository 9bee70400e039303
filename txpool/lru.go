package txpool

import (
	"container/list"

	"github.com/dagledger/node/ledger"
)

// lruSet is a capacity-bounded set used for the rejected-transaction
// cache: rejection is terminal, but an unbounded cache would let a
// flood of invalid signatures grow memory without limit, so the oldest
// entries are evicted once over capacity.
type lruSet struct {
	cap   int
	ll    *list.List
	index map[ledger.Hash]*list.Element
}

func newLRUSet(capacity int) *lruSet {
	return &lruSet{
		cap:   capacity,
		ll:    list.New(),
		index: make(map[ledger.Hash]*list.Element),
	}
}

func (s *lruSet) Contains(h ledger.Hash) bool {
	_, ok := s.index[h]
	return ok
}

func (s *lruSet) Add(h ledger.Hash) {
	if _, ok := s.index[h]; ok {
		return
	}
	el := s.ll.PushBack(h)
	s.index[h] = el
	for s.ll.Len() > s.cap {
		oldest := s.ll.Front()
		if oldest == nil {
			break
		}
		s.ll.Remove(oldest)
		delete(s.index, oldest.Value.(ledger.Hash))
	}
}
