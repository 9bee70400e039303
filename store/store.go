// Package store implements the node's durable, ordered key-value
// layer: columns, atomic batches, period snapshots with bounded
// retention, and crash recovery (revert-to-period, rebuild mode,
// version gating). It is backed by bbolt, with a registered,
// extensible column list.
package store

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dagledger/node/ledger"

	bolt "go.etcd.io/bbolt"
)

// Config holds the operator-facing storage tunables.
type Config struct {
	// SnapshotStride is db_snapshot_each_n_pbft_block; 0 disables
	// snapshotting.
	SnapshotStride uint64
	// MaxSnapshots is db_max_snapshots; the FIFO retention bound.
	MaxSnapshots int
	// RevertToPeriod is db_revert_to_period; a one-shot instruction
	// consumed on Open. nil means "do not revert".
	RevertToPeriod *uint64
	// Rebuild is the rebuild boolean: current directories are renamed
	// aside and fresh ones created.
	Rebuild bool
}

// Store is the durable ordered key-value layer. All mutations within
// one Batch become visible together or not at
// all; bbolt's own transaction gives this for free, so Batch is a thin
// deferred-op wrapper around a single *bolt.Tx (see batch.go).
//
// dirMu serializes snapshot directory operations (MaybeSnapshot);
// revert and rebuild run inside Open before the Store exists. Ordinary
// column reads and
// writes go straight to bbolt, which is safe for concurrent readers
// and serialized writers on its own.
type Store struct {
	nodeDir string // node data directory root
	dbDir   string // D/db
	db      *bolt.DB
	log     *slog.Logger

	cfg Config

	dirMu sync.Mutex

	MinorVersionDrift bool
}

// Open opens (or initializes) the store rooted at nodeDir, applying
// rebuild/revert-to-period per cfg, then the version gate.
func Open(nodeDir string, cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(nodeDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir node dir: %w", err)
	}
	dbDir := filepath.Join(nodeDir, "db")

	if cfg.Rebuild {
		if err := rebuildDirs(nodeDir, dbDir); err != nil {
			return nil, err
		}
	}
	if cfg.RevertToPeriod != nil {
		if err := revertToPeriod(nodeDir, dbDir, *cfg.RevertToPeriod); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir db dir: %w", err)
	}
	bdb, err := bolt.Open(filepath.Join(dbDir, "kv.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bbolt: %w", err)
	}

	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, c := range allColumns {
			if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
				return fmt.Errorf("store: create bucket %s: %w", c, err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	minorDrift, err := checkVersionGate(bdb)
	if err != nil {
		_ = bdb.Close()
		return nil, err
	}
	if minorDrift {
		log.Warn("store: minor version drift detected, proceeding without migration")
	}

	s := &Store{
		nodeDir:           nodeDir,
		dbDir:             dbDir,
		db:                bdb,
		log:               log,
		cfg:               cfg,
		MinorVersionDrift: minorDrift,
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the value for key in col, or found=false if absent.
func (s *Store) Get(col Column, key []byte) (value []byte, found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(col)).Get(key)
		if v == nil {
			return nil
		}
		value = append([]byte(nil), v...)
		found = true
		return nil
	})
	return value, found, err
}

// MultiGet returns the value for each key in col, in the same order;
// a missing key yields a nil slice at that position.
func (s *Store) MultiGet(col Column, keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(col))
		for i, k := range keys {
			if v := b.Get(k); v != nil {
				out[i] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	return out, err
}

// ForEach visits every key/value pair in col in key order (bbolt
// buckets are backed by a B+tree and iterate sorted by key).
func (s *Store) ForEach(col Column, visit func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(col)).ForEach(visit)
	})
}

// Insert is a single-column, single-key write outside of a Batch, for
// callers that don't need cross-column atomicity.
func (s *Store) Insert(col Column, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(col)).Put(key, value)
	})
}

// SeekRange visits every key/value pair in col whose key is in
// [from, to) using a bbolt cursor, in key order. to may be nil to mean
// "no upper bound". Used for composite-key range scans such as the
// (level, hash) level index.
func (s *Store) SeekRange(col Column, from, to []byte, visit func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(col)).Cursor()
		for k, v := c.Seek(from); k != nil; k, v = c.Next() {
			if to != nil && bytesGTE(k, to) {
				break
			}
			if err := visit(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func bytesGTE(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return len(a) >= len(b)
}

func encodeU64(v uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, v)
	return out
}

func decodeU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, ledger.NewError("store", ledger.KindCorrupt, "expected 8-byte counter")
	}
	return binary.BigEndian.Uint64(b), nil
}

// Counter reads an 8-byte big-endian counter from the status column,
// returning 0 if absent.
func (s *Store) Counter(key string) (uint64, error) {
	v, found, err := s.Get(ColStatus, []byte(key))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return decodeU64(v)
}

func (s *Store) NumExecutedBlocks() (uint64, error) { return s.Counter(statusKeyNumExecutedBlock) }
func (s *Store) DAGBlockCount() (uint64, error)     { return s.Counter(statusKeyDAGBlockCount) }
func (s *Store) DAGEdgeCount() (uint64, error)      { return s.Counter(statusKeyDAGEdgeCount) }

// NodeDir returns D, the root node directory.
func (s *Store) NodeDir() string { return s.nodeDir }
