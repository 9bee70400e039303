// Package executor implements the period-ordered execution pipeline:
// it consumes finalized PBFT blocks in strict period order, flattens
// each anchor's ordered DAG closure into a transaction sequence,
// applies replay protection, invokes an external state-transition
// function, persists the results in one atomic batch, and notifies
// subscribers.
//
// The wake-and-recheck-a-counter loop is a textbook sync.Cond use: the
// wakeup source (pbftchain.Chain.Extend) and its consumer are decoupled
// across component boundaries and may need to coalesce multiple
// signals into one drain pass, which a plain channel send would not
// do safely.
package executor

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/dagledger/node/dagstore"
	"github.com/dagledger/node/ledger"
	"github.com/dagledger/node/pbftchain"
	"github.com/dagledger/node/replay"
	"github.com/dagledger/node/store"
	"github.com/dagledger/node/txpool"
)

// Receipt is one transaction's execution outcome.
type Receipt struct {
	TxHash  ledger.Hash
	Status  ledger.TxStatus
	GasUsed uint64
}

// FinalizedBlock describes one executed period, passed to subscribers.
type FinalizedBlock struct {
	Period    uint64
	PBFTHash  ledger.Hash
	Anchor    ledger.Hash
	StateRoot ledger.Hash
	Receipts  []Receipt
}

// StateTransition is the external state machine that applies a
// period's transactions and returns the resulting state root and
// per-transaction receipts. It is supplied by the embedder.
type StateTransition interface {
	Apply(ctx context.Context, period uint64, txs []*ledger.Transaction) (stateRoot ledger.Hash, receipts []Receipt, err error)
}

// Subscriber receives a synchronous notification per executed period.
type Subscriber interface {
	OnFinalizedBlock(FinalizedBlock)
}

// Executor drives the period-ordered execution pipeline.
type Executor struct {
	db     *store.Store
	chain  *pbftchain.Chain
	dag    *dagstore.Store
	replay *replay.Protector
	pool   *txpool.Pool
	apply  StateTransition
	sub    Subscriber
	log    *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	stopped bool
}

// New constructs an Executor. sub may be nil (no-op sink).
func New(db *store.Store, chain *pbftchain.Chain, dag *dagstore.Store, rp *replay.Protector, pool *txpool.Pool, apply StateTransition, sub Subscriber, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	if sub == nil {
		sub = noopSubscriber{}
	}
	e := &Executor{
		db:     db,
		chain:  chain,
		dag:    dag,
		replay: rp,
		pool:   pool,
		apply:  apply,
		sub:    sub,
		log:    log,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

type noopSubscriber struct{}

func (noopSubscriber) OnFinalizedBlock(FinalizedBlock) {}

// Notify wakes the executor loop. Called by the node wiring layer
// after a successful pbftchain.Chain.Extend.
func (e *Executor) Notify() {
	e.mu.Lock()
	e.cond.Signal()
	e.mu.Unlock()
}

// Stop wakes the loop permanently and marks the executor shut down.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Run drives the executor's loop until Stop is called or ctx is done.
// It is meant to be run in its own goroutine, one per node.
func (e *Executor) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		e.Stop()
	}()

	for {
		e.mu.Lock()
		for !e.stopped {
			if e.hasWorkLocked() {
				break
			}
			e.cond.Wait()
		}
		stopped := e.stopped
		e.mu.Unlock()
		if stopped {
			return
		}
		if err := e.drainAvailablePeriods(ctx); err != nil {
			e.log.Error("executor: drain failed", "err", err)
		}
	}
}

func (e *Executor) hasWorkLocked() bool {
	next, err := e.db.NumExecutedBlocks()
	if err != nil {
		return false
	}
	_, found, err := e.chain.PeriodBlock(next + 1)
	return err == nil && found
}

// drainAvailablePeriods runs ExecuteNext repeatedly while consecutive
// periods are available.
func (e *Executor) drainAvailablePeriods(ctx context.Context) error {
	for {
		ran, err := e.ExecuteNext(ctx)
		if err != nil || !ran {
			return err
		}
	}
}

// ExecuteNext runs the pipeline for num_executed_blocks+1 if that
// period's PBFT block has been extended. ran is false if no such
// period exists yet (idempotent: safe to call repeatedly).
func (e *Executor) ExecuteNext(ctx context.Context) (ran bool, err error) {
	next, err := e.db.NumExecutedBlocks()
	if err != nil {
		return false, err
	}
	period := next + 1

	pHash, found, err := e.chain.PeriodBlock(period)
	if err != nil || !found {
		return false, err
	}
	pb, found, err := e.chain.PBFTBlock(pHash)
	if err != nil {
		return false, err
	}
	if !found {
		return false, ledger.NewError("executor", ledger.KindCorrupt,
			"period_pbft_block points at an unknown pbft block")
	}

	order, err := e.anchorOrder(pb.Anchor)
	if err != nil {
		return false, err
	}

	var flat []*ledger.Transaction
	for _, bh := range order {
		blk, ok := e.dag.Block(bh)
		if !ok {
			return false, ledger.NewError("executor", ledger.KindCorrupt,
				"anchor order references unknown dag block")
		}
		for _, th := range blk.Transactions {
			raw, found, err := e.db.Get(store.ColTransactions, th[:])
			if err != nil {
				return false, err
			}
			if !found {
				return false, ledger.NewError("executor", ledger.KindNotFound,
					"referenced transaction not found")
			}
			tx, err := ledger.DecodeTransaction(raw)
			if err != nil {
				return false, ledger.WrapError("executor", ledger.KindCorrupt, "decode transaction", err)
			}
			flat = append(flat, tx)
		}
	}

	var applied []*ledger.Transaction
	var revertedHashes []ledger.Hash
	for _, tx := range flat {
		if e.replay.IsReplay(tx) {
			revertedHashes = append(revertedHashes, tx.Hash())
			continue
		}
		applied = append(applied, tx)
	}

	stateRoot, receipts, err := e.apply.Apply(ctx, period, applied)
	if err != nil {
		return false, err
	}

	batch := e.db.Batch()
	for _, r := range receipts {
		batch = batch.Put(store.ColReceipts, r.TxHash[:], encodeReceipt(r))
		batch = batch.Put(store.ColTrxStatus, r.TxHash[:], []byte{byte(ledger.StatusFinalized)})
	}
	for _, h := range revertedHashes {
		batch = batch.Put(store.ColTrxStatus, h[:], []byte{byte(ledger.StatusReverted)})
	}
	for _, bh := range order {
		batch = batch.Put(store.ColDAGBlockPeriod, bh[:], encodePeriod(period))
	}
	batch = batch.PutCounter("num_executed_blocks", period)
	if err := batch.Commit(); err != nil {
		return false, err
	}
	if err := e.db.MaybeSnapshot(period); err != nil {
		return false, err
	}
	if err := e.replay.CommitPeriod(applied); err != nil {
		return false, err
	}

	e.sub.OnFinalizedBlock(FinalizedBlock{
		Period:    period,
		PBFTHash:  pHash,
		Anchor:    pb.Anchor,
		StateRoot: stateRoot,
		Receipts:  receipts,
	})

	// Replayed transactions leave the pool too: they sat in a finalized
	// block, even though the state transition never saw them.
	executedHashes := append([]ledger.Hash(nil), revertedHashes...)
	for _, tx := range applied {
		executedHashes = append(executedHashes, tx.Hash())
	}
	e.pool.RemoveBlockTransactions(executedHashes)

	return true, nil
}

// Receipt returns the persisted execution outcome for a transaction.
func (e *Executor) Receipt(txHash ledger.Hash) (Receipt, bool, error) {
	raw, found, err := e.db.Get(store.ColReceipts, txHash[:])
	if err != nil || !found {
		return Receipt{}, found, err
	}
	r, err := decodeReceipt(raw)
	if err != nil {
		return Receipt{}, false, ledger.WrapError("executor", ledger.KindCorrupt, "decode receipt", err)
	}
	r.TxHash = txHash
	return r, true, nil
}

func encodeReceipt(r Receipt) []byte {
	out := make([]byte, 9)
	out[0] = byte(r.Status)
	binary.BigEndian.PutUint64(out[1:], r.GasUsed)
	return out
}

func decodeReceipt(buf []byte) (Receipt, error) {
	if len(buf) != 9 {
		return Receipt{}, ledger.NewError("executor", ledger.KindCorrupt, "malformed receipt record")
	}
	return Receipt{Status: ledger.TxStatus(buf[0]), GasUsed: binary.BigEndian.Uint64(buf[1:])}, nil
}

func (e *Executor) anchorOrder(anchor ledger.Hash) ([]ledger.Hash, error) {
	raw, found, err := e.db.Get(store.ColDAGFinalizedBlocks, anchor[:])
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ledger.NewError("executor", ledger.KindNotFound, "no ordered set for anchor")
	}
	return ledger.DecodeHashList(raw)
}

func encodePeriod(p uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, p)
	return out
}
