// Package txpool implements the transaction admission queue: an
// intake buffer feeding an unverified queue of hashes,
// signature-verification workers promoting entries into a verified
// pool, and a bounded rejected cache.
//
// The unverified queue's blocking pop uses a done channel closed once
// and selected alongside the work channel.
package txpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dagledger/node/ledger"
	"github.com/dagledger/node/store"
)

// Verifier recovers and checks a transaction's signature, returning
// the sender address on success. It is the pool's only external
// collaborator; signature schemes are supplied by the embedder.
type Verifier interface {
	Verify(t *ledger.Transaction) (ledger.Address, error)
}

type entry struct {
	tx  *ledger.Transaction
	seq uint64 // insertion order, for deterministic FIFO snapshots
}

// Pool is the transaction admission queue.
type Pool struct {
	db       *store.Store
	verifier Verifier
	log      *slog.Logger
	workers  int

	mu         sync.RWMutex
	nextSeq    uint64
	unverified chan ledger.Hash
	pending    map[ledger.Hash]*entry // hash -> entry, unverified or verified
	verifiedOK map[ledger.Hash]bool   // subset of pending that passed verification
	rejected   *lruSet

	stopped bool
	done    chan struct{}

	// unhealthy latches true when background persistence against the
	// store fails; admission keeps working in memory and the embedder
	// reads Healthy to decide whether to alarm.
	unhealthy atomic.Bool
}

// Config holds the pool's operator-facing tunables.
type Config struct {
	Workers          int
	UnverifiedBuffer int
	RejectedCapacity int
}

// New constructs a Pool. Call Start to launch verification workers.
func New(db *store.Store, verifier Verifier, cfg Config, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.UnverifiedBuffer <= 0 {
		cfg.UnverifiedBuffer = 1024
	}
	if cfg.RejectedCapacity <= 0 {
		cfg.RejectedCapacity = 4096
	}
	return &Pool{
		db:         db,
		verifier:   verifier,
		log:        log,
		workers:    cfg.Workers,
		unverified: make(chan ledger.Hash, cfg.UnverifiedBuffer),
		pending:    make(map[ledger.Hash]*entry),
		verifiedOK: make(map[ledger.Hash]bool),
		rejected:   newLRUSet(cfg.RejectedCapacity),
		done:       make(chan struct{}),
	}
}

// Start launches the verification worker pool.
func (p *Pool) Start(ctx context.Context) *errgroup.Group {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.verifyLoop(ctx)
		})
	}
	return g
}

// Stop signals shutdown: sets the stopped flag, wakes pop_unverified,
// and new operations fail with a shutting-down error.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	close(p.done)
}

func (p *Pool) shuttingDownErr() error {
	return ledger.NewError("txpool", ledger.KindShuttingDown, "pool is shutting down")
}

// Insert admits t. If verify is true it is queued for asynchronous
// signature verification; otherwise it is placed directly into the
// verified pool (a trusted-insert path, e.g. for locally-proposed
// blocks' own transactions). Duplicate hashes (already pending,
// verified, or rejected) are no-ops.
func (p *Pool) Insert(t *ledger.Transaction, verify bool) error {
	h := t.Hash()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return p.shuttingDownErr()
	}
	if _, exists := p.pending[h]; exists {
		p.mu.Unlock()
		return nil
	}
	if p.rejected.Contains(h) {
		p.mu.Unlock()
		return nil
	}
	seq := p.nextSeq
	p.nextSeq++
	p.pending[h] = &entry{tx: t, seq: seq}
	if !verify {
		p.verifiedOK[h] = true
	}
	p.mu.Unlock()

	if verify {
		select {
		case p.unverified <- h:
		case <-p.done:
			return p.shuttingDownErr()
		}
		return nil
	}
	p.persistAdmitted(h, t)
	return nil
}

// persistAdmitted writes the verified transaction and its in_pool
// status marker in one batch, so a restarted node (and the executor's
// by-hash transaction fetch) can see pool contents that made it into a
// proposed block. Storage errors here degrade the pool's health flag
// rather than failing admission.
func (p *Pool) persistAdmitted(h ledger.Hash, t *ledger.Transaction) {
	err := p.db.Batch().
		Put(store.ColTransactions, h[:], ledger.EncodeTransaction(t)).
		Put(store.ColTrxStatus, h[:], []byte{byte(ledger.StatusInPool)}).
		Commit()
	if err != nil {
		p.unhealthy.Store(true)
		p.log.Error("txpool: persist transaction failed", "hash", h, "err", err)
	}
}

// Healthy reports whether background persistence has been succeeding.
func (p *Pool) Healthy() bool { return !p.unhealthy.Load() }

// popUnverified blocks until a hash is available or the pool stops.
func (p *Pool) popUnverified(ctx context.Context) (ledger.Hash, bool) {
	select {
	case h := <-p.unverified:
		return h, true
	case <-p.done:
		return ledger.Hash{}, false
	case <-ctx.Done():
		return ledger.Hash{}, false
	}
}

func (p *Pool) verifyLoop(ctx context.Context) error {
	for {
		h, ok := p.popUnverified(ctx)
		if !ok {
			return nil
		}
		p.mu.RLock()
		e, exists := p.pending[h]
		p.mu.RUnlock()
		if !exists {
			continue
		}
		sender, err := p.verifier.Verify(e.tx)
		if err != nil {
			p.reject(h)
			continue
		}
		e.tx.Sender = sender
		p.promote(h)
		p.persistAdmitted(h, e.tx)
	}
}

// promote marks hash h as verified, making it visible to snapshot.
func (p *Pool) promote(h ledger.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[h]; ok {
		p.verifiedOK[h] = true
	}
}

func (p *Pool) reject(h ledger.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, h)
	delete(p.verifiedOK, h)
	p.rejected.Add(h)
}

// Snapshot returns up to cap verified transactions (all if cap==0),
// choosing the earliest inserted first. The result is a map, so it
// carries no order. If move is true, the returned transactions are
// removed from the verified view.
func (p *Pool) Snapshot(cap int, move bool) map[ledger.Hash]*ledger.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	type keyed struct {
		h   ledger.Hash
		seq uint64
	}
	var verified []keyed
	for h := range p.verifiedOK {
		verified = append(verified, keyed{h: h, seq: p.pending[h].seq})
	}
	for i := 1; i < len(verified); i++ {
		for j := i; j > 0 && verified[j].seq < verified[j-1].seq; j-- {
			verified[j], verified[j-1] = verified[j-1], verified[j]
		}
	}
	if cap > 0 && cap < len(verified) {
		verified = verified[:cap]
	}

	out := make(map[ledger.Hash]*ledger.Transaction, len(verified))
	for _, k := range verified {
		out[k.h] = p.pending[k.h].tx
		if move {
			delete(p.verifiedOK, k.h)
			delete(p.pending, k.h)
		}
	}
	return out
}

// RemoveBlockTransactions removes hashes from the pool, typically
// after their inclusion in a finalized block.
func (p *Pool) RemoveBlockTransactions(hashes []ledger.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range hashes {
		delete(p.pending, h)
		delete(p.verifiedOK, h)
	}
}

// Size returns the counts of verified and not-yet-verified
// transactions currently held.
func (p *Pool) Size() (verified, unverified int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	verified = len(p.verifiedOK)
	unverified = len(p.pending) - verified
	return verified, unverified
}
