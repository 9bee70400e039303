package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dagledger/node/executor"
	"github.com/dagledger/node/ledger"
	nodepkg "github.com/dagledger/node/node"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := nodepkg.DefaultConfig()
	cfg := defaults

	fs := flag.NewFlagSet("dagledger-node", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.Network, "network", defaults.Network, "network name (devnet/testnet/mainnet)")
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fs.Uint64Var(&cfg.SnapshotStride, "snapshot-stride", defaults.SnapshotStride, "periods between store snapshots (0 disables)")
	fs.IntVar(&cfg.MaxSnapshots, "max-snapshots", defaults.MaxSnapshots, "max retained snapshots (FIFO eviction)")
	fs.BoolVar(&cfg.Rebuild, "rebuild", false, "rename aside the current store and start fresh")
	revertTo := fs.Uint64("revert-to-period", 0, "revert the store to this period at startup (0 means no revert)")
	fs.IntVar(&cfg.TxPoolWorkers, "pool-workers", defaults.TxPoolWorkers, "transaction verification worker count")
	fs.IntVar(&cfg.ExpectedMaxTrxPerBlock, "expected-max-trx-per-block", defaults.ExpectedMaxTrxPerBlock, "pool snapshot capacity hint for block proposal (0 means uncapped)")
	fs.Uint64Var(&cfg.FinalizationHorizon, "finalization-horizon", defaults.FinalizationHorizon, "anchor-selection finalization horizon, in levels")
	fs.Uint64Var(&cfg.ReplayWindow, "replay-window", defaults.ReplayWindow, "replay protection window, in nonce slots per sender")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *revertTo != 0 {
		cfg.RevertToPeriod = revertTo
	}

	if err := nodepkg.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}
	if *dryRun {
		if err := printConfig(stdout, cfg); err != nil {
			fmt.Fprintf(stderr, "print config: %v\n", err)
			return 2
		}
		return 0
	}

	log := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: logLevelToSlog(cfg.LogLevel)}))

	kek, fromEnv, err := identityKEK()
	if err != nil {
		fmt.Fprintf(stderr, "identity KEK: %v\n", err)
		return 2
	}
	if !fromEnv {
		log.Warn("DAGLEDGER_IDENTITY_KEK not set, wrapping the proposer seed with the well-known dev key")
	}
	id, err := nodepkg.LoadOrCreateIdentity(cfg.DataDir, kek)
	if err != nil {
		fmt.Fprintf(stderr, "proposer identity: %v\n", err)
		return 2
	}
	log.Info("proposer identity loaded", "address", id.Address())

	n, err := nodepkg.New(cfg, passthroughVerifier{}, noopStateTransition{}, nil, log)
	if err != nil {
		fmt.Fprintf(stderr, "node init failed: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n.Start(ctx)
	log.Info("node started", "network", cfg.Network, "datadir", cfg.DataDir)

	<-ctx.Done()
	log.Info("shutting down")
	if err := n.Stop(); err != nil {
		fmt.Fprintf(stderr, "shutdown error: %v\n", err)
		return 1
	}
	return 0
}

// identityKEK resolves the 32-byte key-encryption-key that wraps the
// proposer seed at rest: hex from DAGLEDGER_IDENTITY_KEK if set, else a
// well-known all-zero dev key (fromEnv reports which).
func identityKEK() (kek []byte, fromEnv bool, err error) {
	if raw := os.Getenv("DAGLEDGER_IDENTITY_KEK"); raw != "" {
		kek, err = hex.DecodeString(raw)
		if err != nil {
			return nil, false, fmt.Errorf("DAGLEDGER_IDENTITY_KEK is not valid hex: %w", err)
		}
		if len(kek) != 32 {
			return nil, false, fmt.Errorf("DAGLEDGER_IDENTITY_KEK must be 32 bytes, got %d", len(kek))
		}
		return kek, true, nil
	}
	return make([]byte, 32), false, nil
}

func printConfig(w io.Writer, cfg nodepkg.Config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func logLevelToSlog(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// passthroughVerifier and noopStateTransition are placeholders for
// the externally-supplied signature and state-transition
// collaborators; a real deployment wires in its own signature
// recovery and EVM-equivalent state machine here.
type passthroughVerifier struct{}

func (passthroughVerifier) Verify(t *ledger.Transaction) (ledger.Address, error) {
	return t.Sender, nil
}

type noopStateTransition struct{}

func (noopStateTransition) Apply(ctx context.Context, period uint64, txs []*ledger.Transaction) (ledger.Hash, []executor.Receipt, error) {
	receipts := make([]executor.Receipt, len(txs))
	for i, tx := range txs {
		receipts[i] = executor.Receipt{TxHash: tx.Hash(), Status: ledger.StatusFinalized, GasUsed: tx.Gas}
	}
	return ledger.Hash{}, receipts, nil
}
