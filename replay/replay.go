// Package replay implements the sliding nonce-window replay
// protection layer: an authoritative highest-finalized nonce per
// sender, plus a W-bit bitmap of consumed nonce slots (nonce mod W),
// persisted in the store under a dedicated column.
package replay

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/dagledger/node/ledger"
	"github.com/dagledger/node/store"
)

// window is the persisted per-sender state: the highest nonce seen in
// a finalized period, and a bitmap of which nonce slots (nonce mod W)
// have been consumed, so a resubmission of an already consumed
// (sender, nonce) is caught even when it is not the single highest
// nonce.
type window struct {
	highest uint64
	bitmap  []byte // len = (W+7)/8
}

// Protector is the per-sender nonce-window replay-protection component.
type Protector struct {
	db  *store.Store
	log *slog.Logger
	w   uint64 // W, the number of nonce slots per sender

	mu      sync.RWMutex
	windows map[ledger.Address]*window

	// fastReject is a blake2b-keyed set of (sender,nonce) fingerprints
	// seen within the tracked horizon; a miss here proves "not a
	// replay" without touching the authoritative bitmap, a pure
	// performance pre-filter that never changes is_replay's answer.
	fastReject map[[16]byte]bool
}

// New loads persisted per-sender windows from db. w is the configured
// window size (nonces are tracked mod w).
func New(db *store.Store, w uint64, log *slog.Logger) (*Protector, error) {
	if log == nil {
		log = slog.Default()
	}
	if w == 0 {
		w = 1
	}
	p := &Protector{
		db:         db,
		log:        log,
		w:          w,
		windows:    make(map[ledger.Address]*window),
		fastReject: make(map[[16]byte]bool),
	}
	if err := p.loadAll(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Protector) loadAll() error {
	return p.db.ForEach(store.ColReplayWindow, func(k, v []byte) error {
		if len(k) != 20 {
			return nil
		}
		var addr ledger.Address
		copy(addr[:], k)
		w, err := decodeWindow(v, p.w)
		if err != nil {
			return err
		}
		p.windows[addr] = w
		p.seedFastReject(addr, w)
		return nil
	})
}

func (p *Protector) seedFastReject(addr ledger.Address, w *window) {
	for i := range w.bitmap {
		for bit := 0; bit < 8; bit++ {
			if w.bitmap[i]&(1<<uint(bit)) == 0 {
				continue
			}
			slot := uint64(i*8 + bit)
			p.fastReject[fingerprint(addr, slot)] = true
		}
	}
}

// fingerprint folds (sender, nonce-slot) into a compact key via
// blake2b, used only by the fast-reject pre-filter.
func fingerprint(addr ledger.Address, slot uint64) [16]byte {
	var buf [28]byte
	copy(buf[:20], addr[:])
	binary.BigEndian.PutUint64(buf[20:], slot)
	sum := blake2b.Sum256(buf[:])
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// IsReplay returns true iff t.Nonce has already been finalized for
// t.Sender: it is at or below the authoritative highest nonce and the
// corresponding slot bit is set.
func (p *Protector) IsReplay(t *ledger.Transaction) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	w, ok := p.windows[t.Sender]
	if !ok {
		return false
	}
	if t.Nonce > w.highest {
		return false
	}
	slot := t.Nonce % p.w
	if !p.fastReject[fingerprint(t.Sender, slot)] {
		return false
	}
	return bitSet(w.bitmap, slot)
}

// CommitPeriod updates the window for every transaction's sender with
// its nonce, then persists every touched window in one atomic batch.
// Nothing is rotated out: a slot bit, once set, is never cleared, so
// nonces that share a slot (equal mod W) share one bit.
func (p *Protector) CommitPeriod(txs []*ledger.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	touched := make(map[ledger.Address]*window)
	for _, t := range txs {
		w, ok := p.windows[t.Sender]
		if !ok {
			w = &window{bitmap: make([]byte, (p.w+7)/8)}
			p.windows[t.Sender] = w
		}
		if t.Nonce > w.highest {
			w.highest = t.Nonce
		}
		slot := t.Nonce % p.w
		setBit(w.bitmap, slot)
		p.fastReject[fingerprint(t.Sender, slot)] = true
		touched[t.Sender] = w
	}

	if len(touched) == 0 {
		return nil
	}
	batch := p.db.Batch()
	for addr, w := range touched {
		batch = batch.Put(store.ColReplayWindow, addr[:], encodeWindow(w))
	}
	return batch.Commit()
}

func bitSet(bitmap []byte, slot uint64) bool {
	idx := slot / 8
	if idx >= uint64(len(bitmap)) {
		return false
	}
	return bitmap[idx]&(1<<uint(slot%8)) != 0
}

func setBit(bitmap []byte, slot uint64) {
	idx := slot / 8
	if idx >= uint64(len(bitmap)) {
		return
	}
	bitmap[idx] |= 1 << uint(slot%8)
}

func encodeWindow(w *window) []byte {
	out := make([]byte, 8+len(w.bitmap))
	binary.BigEndian.PutUint64(out[:8], w.highest)
	copy(out[8:], w.bitmap)
	return out
}

func decodeWindow(buf []byte, w uint64) (*window, error) {
	want := 8 + int((w+7)/8)
	if len(buf) != want {
		return nil, ledger.NewError("replay", ledger.KindCorrupt, "malformed replay window record")
	}
	win := &window{
		highest: binary.BigEndian.Uint64(buf[:8]),
		bitmap:  append([]byte(nil), buf[8:]...),
	}
	return win, nil
}
