package store

import (
	"encoding/binary"
	"fmt"

	"github.com/dagledger/node/ledger"

	bolt "go.etcd.io/bbolt"
)

// Binary version. Major changes are incompatible; minor changes are
// additive and tolerated with a drift flag, never silently migrated.
const (
	BinaryMajorVersion uint32 = 1
	BinaryMinorVersion uint32 = 0
)

func encodeU32(v uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, v)
	return out
}

func decodeU32(b []byte) (uint32, bool) {
	if len(b) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

// checkVersionGate reads (major, minor) from the status column. If the
// column is empty (fresh store), it is initialized to the binary's own
// version. A differing major version is fatal (VersionMismatch); a
// differing minor version is tolerated and reported via the returned
// bool.
func checkVersionGate(db *bolt.DB) (minorDrift bool, err error) {
	err = db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ColStatus))
		majorRaw := b.Get([]byte(statusKeyMajorVersion))
		if majorRaw == nil {
			if err := b.Put([]byte(statusKeyMajorVersion), encodeU32(BinaryMajorVersion)); err != nil {
				return err
			}
			return b.Put([]byte(statusKeyMinorVersion), encodeU32(BinaryMinorVersion))
		}
		major, ok := decodeU32(majorRaw)
		if !ok {
			return ledger.NewError("store", ledger.KindCorrupt, "status: db_major_version malformed")
		}
		minorRaw := b.Get([]byte(statusKeyMinorVersion))
		minor, minorOK := decodeU32(minorRaw)
		if major != BinaryMajorVersion {
			return ledger.NewError("store", ledger.KindVersionMismatch,
				fmt.Sprintf("on-disk version %d.%d is incompatible with binary version %d.%d",
					major, minor, BinaryMajorVersion, BinaryMinorVersion))
		}
		if !minorOK {
			return ledger.NewError("store", ledger.KindCorrupt, "status: db_minor_version malformed")
		}
		minorDrift = minor != BinaryMinorVersion
		return nil
	})
	return minorDrift, err
}
