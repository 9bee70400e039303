package store

import bolt "go.etcd.io/bbolt"

type batchOp struct {
	col    Column
	key    []byte
	value  []byte // ignored when delete is set
	delete bool
}

// Batch is an in-progress atomic write spanning one or more columns.
// Operations are buffered and applied inside a single bbolt
// transaction on Commit, so bbolt's own transaction durability gives
// the all-or-nothing guarantee without the store needing its own WAL.
type Batch struct {
	store *Store
	ops   []batchOp
}

// Batch returns a new in-progress Batch bound to s.
func (s *Store) Batch() *Batch {
	return &Batch{store: s}
}

func (b *Batch) Put(col Column, key, value []byte) *Batch {
	b.ops = append(b.ops, batchOp{col: col, key: key, value: append([]byte(nil), value...)})
	return b
}

func (b *Batch) Delete(col Column, key []byte) *Batch {
	b.ops = append(b.ops, batchOp{col: col, key: key, delete: true})
	return b
}

// PutCounter stages an 8-byte big-endian counter write to the status column.
func (b *Batch) PutCounter(key string, value uint64) *Batch {
	return b.Put(ColStatus, []byte(key), encodeU64(value))
}

// Commit applies every staged op in one bbolt transaction. On error,
// no op is visible (bbolt rolls the whole transaction back).
func (b *Batch) Commit() error {
	if len(b.ops) == 0 {
		return nil
	}
	return b.store.db.Update(func(tx *bolt.Tx) error {
		for _, op := range b.ops {
			bucket := tx.Bucket([]byte(op.col))
			if op.delete {
				if err := bucket.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
}
