package ledger

import "golang.org/x/crypto/sha3"

// sum32 hashes b with SHA3-256.
func sum32(b []byte) Hash {
	return Hash(sha3.Sum256(b))
}
