package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds every operator-facing tunable: the store's
// snapshot/revert/rebuild knobs, the pool's worker sizing, replay
// protection's window, and the DAG store's finalization horizon.
// Network framing, peer discovery and RPC endpoints are handled by an
// external transport layer and have no fields here.
type Config struct {
	Network  string `json:"network"`
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`

	SnapshotStride uint64  `json:"db_snapshot_each_n_pbft_block"`
	MaxSnapshots   int     `json:"db_max_snapshots"`
	RevertToPeriod *uint64 `json:"db_revert_to_period,omitempty"`
	Rebuild        bool    `json:"rebuild"`

	TxPoolWorkers    int `json:"dag_processing_threads"`
	UnverifiedBuffer int `json:"txpool_unverified_buffer"`
	RejectedCapacity int `json:"txpool_rejected_capacity"`

	// ExpectedMaxTrxPerBlock caps the pool snapshot a block proposer
	// takes; 0 means "no cap". It also sizes the rejected cache when
	// txpool_rejected_capacity is unset.
	ExpectedMaxTrxPerBlock int `json:"expected_max_trx_per_block"`

	FinalizationHorizon uint64 `json:"finalization_horizon"`
	ReplayWindow        uint64 `json:"replay_window_periods"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".dagledger"
	}
	return filepath.Join(home, ".dagledger")
}

func DefaultConfig() Config {
	return Config{
		Network:                "devnet",
		DataDir:                DefaultDataDir(),
		LogLevel:               "info",
		SnapshotStride:         1000,
		MaxSnapshots:           10,
		TxPoolWorkers:          4,
		UnverifiedBuffer:       1024,
		ExpectedMaxTrxPerBlock: 256,
		FinalizationHorizon:    10,
		ReplayWindow:           10000,
	}
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxSnapshots < 0 {
		return errors.New("db_max_snapshots must be >= 0")
	}
	if cfg.TxPoolWorkers <= 0 {
		return errors.New("dag_processing_threads must be > 0")
	}
	if cfg.ExpectedMaxTrxPerBlock < 0 {
		return errors.New("expected_max_trx_per_block must be >= 0")
	}
	if cfg.ReplayWindow == 0 {
		return errors.New("replay_window_periods must be > 0")
	}
	return nil
}
