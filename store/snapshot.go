package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dagledger/node/ledger"

	bolt "go.etcd.io/bbolt"
)

func snapshotDirName(period uint64) string {
	return "db" + strconv.FormatUint(period, 10)
}

func snapshotDir(nodeDir string, period uint64) string {
	return filepath.Join(nodeDir, snapshotDirName(period))
}

// stateDir is D/state_db, the opaque blob owned by the state-transition
// function; the store never reads its contents but snapshots, reverts
// and rebuilds it alongside its own directory so the two stay in step.
func stateDir(nodeDir string) string {
	return filepath.Join(nodeDir, "state_db")
}

func stateSnapshotDir(nodeDir string, period uint64) string {
	return filepath.Join(nodeDir, "state_db"+strconv.FormatUint(period, 10))
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// MaybeSnapshot produces a consistent point-in-time copy of the store
// at nodeDir/db<period> if period is a multiple of the configured
// stride, then evicts the oldest tracked snapshot(s) beyond
// MaxSnapshots (FIFO on period order).
func (s *Store) MaybeSnapshot(period uint64) error {
	if s.cfg.SnapshotStride == 0 {
		return nil
	}
	if period%s.cfg.SnapshotStride != 0 {
		return nil
	}

	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	dst := snapshotDir(s.nodeDir, period)
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("store: clear stale snapshot dir: %w", err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("store: mkdir snapshot dir: %w", err)
	}
	if err := s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(filepath.Join(dst, "kv.db"), 0o600)
	}); err != nil {
		return fmt.Errorf("store: snapshot period %d: %w", period, err)
	}

	if live := stateDir(s.nodeDir); dirExists(live) {
		stateDst := stateSnapshotDir(s.nodeDir, period)
		if err := os.RemoveAll(stateDst); err != nil {
			return fmt.Errorf("store: clear stale state snapshot dir: %w", err)
		}
		if err := copyDir(live, stateDst); err != nil {
			return fmt.Errorf("store: snapshot state_db for period %d: %w", period, err)
		}
	}

	periods, err := s.snapshotPeriods()
	if err != nil {
		return err
	}
	periods = appendSorted(periods, period)

	if s.cfg.MaxSnapshots > 0 {
		for len(periods) > s.cfg.MaxSnapshots {
			evict := periods[0]
			periods = periods[1:]
			if err := os.RemoveAll(snapshotDir(s.nodeDir, evict)); err != nil {
				return fmt.Errorf("store: evict snapshot period %d: %w", evict, err)
			}
			if err := os.RemoveAll(stateSnapshotDir(s.nodeDir, evict)); err != nil {
				return fmt.Errorf("store: evict state snapshot period %d: %w", evict, err)
			}
		}
	}
	return s.setSnapshotPeriods(periods)
}

// Snapshots returns the currently tracked snapshot periods, oldest first.
func (s *Store) Snapshots() ([]uint64, error) { return s.snapshotPeriods() }

func appendSorted(periods []uint64, p uint64) []uint64 {
	for _, existing := range periods {
		if existing == p {
			return periods
		}
	}
	periods = append(periods, p)
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })
	return periods
}

func (s *Store) snapshotPeriods() ([]uint64, error) {
	raw, found, err := s.Get(ColStatus, []byte(statusKeySnapshotPeriods))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return decodeU64List(raw)
}

func (s *Store) setSnapshotPeriods(periods []uint64) error {
	return s.Insert(ColStatus, []byte(statusKeySnapshotPeriods), encodeU64List(periods))
}

func encodeU64List(vals []uint64) []byte {
	out := make([]byte, 4, 4+8*len(vals))
	binary.BigEndian.PutUint32(out, uint32(len(vals)))
	for _, v := range vals {
		out = binary.BigEndian.AppendUint64(out, v)
	}
	return out
}

func decodeU64List(buf []byte) ([]uint64, error) {
	if len(buf) < 4 {
		return nil, ledger.NewError("store", ledger.KindCorrupt, "truncated u64 list")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint64(len(buf)) != uint64(n)*8 {
		return nil, ledger.NewError("store", ledger.KindCorrupt, "truncated u64 list body")
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(buf[i*8 : i*8+8])
	}
	return out, nil
}

// revertToPeriod is called before the bbolt handle is opened: the
// current db directory is replaced by a copy of the snapshot for
// period p; all snapshot directories with period > p are deleted. If
// the snapshot for p is absent, the operation fails without modifying
// anything (checked first, before any mutation).
//
// This copies the snapshot into place rather than renaming it away, so
// the snapshot for p remains available for a later revert to the same
// period.
func revertToPeriod(nodeDir, dbDir string, period uint64) error {
	src := snapshotDir(nodeDir, period)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return ledger.NewError("store", ledger.KindNotFound,
			fmt.Sprintf("revert: no snapshot for period %d", period))
	}

	newerPeriods, err := listSnapshotPeriods(nodeDir)
	if err != nil {
		return err
	}

	if err := installCopy(src, dbDir); err != nil {
		return fmt.Errorf("store: install reverted db dir: %w", err)
	}
	if stateSrc := stateSnapshotDir(nodeDir, period); dirExists(stateSrc) {
		if err := installCopy(stateSrc, stateDir(nodeDir)); err != nil {
			return fmt.Errorf("store: install reverted state_db dir: %w", err)
		}
	}

	for _, p := range newerPeriods {
		if p > period {
			if err := os.RemoveAll(snapshotDir(nodeDir, p)); err != nil {
				return fmt.Errorf("store: remove newer snapshot %d: %w", p, err)
			}
			if err := os.RemoveAll(stateSnapshotDir(nodeDir, p)); err != nil {
				return fmt.Errorf("store: remove newer state snapshot %d: %w", p, err)
			}
		}
	}
	return nil
}

// installCopy replaces dst with a copy of src, staged through a temp
// directory so src (the snapshot) is left intact.
func installCopy(src, dst string) error {
	tmp := dst + ".revert-tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	if err := copyDir(src, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return err
	}
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func listSnapshotPeriods(nodeDir string) ([]uint64, error) {
	entries, err := os.ReadDir(nodeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "db") || strings.Contains(name, "-rebuild-backup-") {
			continue
		}
		suffix := strings.TrimPrefix(name, "db")
		if suffix == "" {
			continue // the live "db" dir itself
		}
		p, err := strconv.ParseUint(suffix, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// rebuildDirs implements rebuild mode: the current store directories
// are renamed aside with a timestamped db-rebuild-backup suffix and a
// fresh db directory is created in their place, keeping the originals
// as a backup.
func rebuildDirs(nodeDir, dbDir string) error {
	ts := time.Now().Unix()
	if _, err := os.Stat(dbDir); err == nil {
		backup := fmt.Sprintf("%s-rebuild-backup-%d", dbDir, ts)
		if err := os.Rename(dbDir, backup); err != nil {
			return fmt.Errorf("store: rebuild backup rename: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	if live := stateDir(nodeDir); dirExists(live) {
		backup := fmt.Sprintf("%s-rebuild-backup-%d", live, ts)
		if err := os.Rename(live, backup); err != nil {
			return fmt.Errorf("store: rebuild state backup rename: %w", err)
		}
	}
	return os.MkdirAll(dbDir, 0o755)
}

func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- src is derived from the operator-controlled data directory.
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
