// Package node wires the core components into a single running
// process: the durable store, the transaction pool, the DAG store,
// the PBFT chain, replay protection and the executor, plus their
// lifecycle.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dagledger/node/dagstore"
	"github.com/dagledger/node/executor"
	"github.com/dagledger/node/ledger"
	"github.com/dagledger/node/pbftchain"
	"github.com/dagledger/node/replay"
	"github.com/dagledger/node/store"
	"github.com/dagledger/node/txpool"
)

// Node composes every core component into one lifecycle. Signature
// verification and the state-transition function are external
// collaborators, supplied by the caller.
type Node struct {
	cfg Config
	log *slog.Logger

	Store    *store.Store
	Pool     *txpool.Pool
	DAG      *dagstore.Store
	Chain    *pbftchain.Chain
	Replay   *replay.Protector
	Executor *executor.Executor

	group  *errgroup.Group
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New opens the store and constructs every component, rebuilding
// in-memory indices from durable state. It does not start any
// goroutines; call Start for that.
func New(cfg Config, verifier txpool.Verifier, apply executor.StateTransition, sub executor.Subscriber, log *slog.Logger) (*Node, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("node: invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("node: create data dir: %w", err)
	}

	st, err := store.Open(cfg.DataDir, store.Config{
		SnapshotStride: cfg.SnapshotStride,
		MaxSnapshots:   cfg.MaxSnapshots,
		RevertToPeriod: cfg.RevertToPeriod,
		Rebuild:        cfg.Rebuild,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}
	if st.MinorVersionDrift {
		log.Warn("node: opening store with minor version drift")
	}

	dag, err := dagstore.New(st, cfg.FinalizationHorizon, log)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("node: init dag store: %w", err)
	}
	chain, err := pbftchain.New(st, log)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("node: init pbft chain: %w", err)
	}
	rp, err := replay.New(st, cfg.ReplayWindow, log)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("node: init replay protection: %w", err)
	}
	rejectedCap := cfg.RejectedCapacity
	if rejectedCap == 0 && cfg.ExpectedMaxTrxPerBlock > 0 {
		rejectedCap = cfg.ExpectedMaxTrxPerBlock * 16
	}
	pool := txpool.New(st, verifier, txpool.Config{
		Workers:          cfg.TxPoolWorkers,
		UnverifiedBuffer: cfg.UnverifiedBuffer,
		RejectedCapacity: rejectedCap,
	}, log)
	ex := executor.New(st, chain, dag, rp, pool, apply, sub, log)

	return &Node{
		cfg:      cfg,
		log:      log,
		Store:    st,
		Pool:     pool,
		DAG:      dag,
		Chain:    chain,
		Replay:   rp,
		Executor: ex,
	}, nil
}

// Start launches the pool's verification workers and the executor
// loop, both long-lived for the process's duration.
func (n *Node) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.group = n.Pool.Start(ctx)
	n.group.Go(func() error {
		n.Executor.Run(ctx)
		return nil
	})
}

// Stop signals every component to shut down and waits for the pool's
// worker group and the executor loop to exit, then closes the store.
func (n *Node) Stop() error {
	n.mu.Lock()
	cancel := n.cancel
	group := n.group
	n.mu.Unlock()

	n.Pool.Stop()
	n.Executor.Stop()
	if cancel != nil {
		cancel()
	}
	if group != nil {
		if err := group.Wait(); err != nil {
			n.log.Error("node: worker group exited with error", "err", err)
		}
	}
	return n.Store.Close()
}

// ProposalTransactions exports up to expected_max_trx_per_block
// verified transactions for a block proposer, removing them from the
// pool's verified view (the move-variant snapshot).
func (n *Node) ProposalTransactions() map[ledger.Hash]*ledger.Transaction {
	return n.Pool.Snapshot(n.cfg.ExpectedMaxTrxPerBlock, true)
}

// ExtendAndNotify is the glue between the PBFT chain and the
// executor: once a caller (the external consensus driver) has
// assembled a certified PBFT block and its anchor order, this commits
// it via Chain.Extend and wakes the executor.
func (n *Node) ExtendAndNotify(p *ledger.PBFTBlock, cert *ledger.CertifiedVoteSet, anchorOrder []ledger.Hash) error {
	if err := n.Chain.Extend(p, cert, anchorOrder); err != nil {
		return err
	}
	n.Executor.Notify()
	return nil
}
