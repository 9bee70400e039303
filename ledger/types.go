// Package ledger defines the wire-level data model shared by every
// component of the node: hashes, addresses, transactions, DAG blocks,
// PBFT blocks and votes, plus their canonical encoding and hashing.
package ledger

import "fmt"

// Hash is a 32-byte content identifier. The zero Hash is the genesis
// sentinel referenced by genesis-adjacent blocks.
type Hash [32]byte

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// Less gives Hash a bytewise total order, used for pivot-chain and
// ordering tie-breaks.
func (h Hash) Less(o Hash) bool {
	for i := range h {
		if h[i] != o[i] {
			return h[i] < o[i]
		}
	}
	return false
}

// Address is a 20-byte account identifier, derived from a public key.
type Address [20]byte

func (a Address) String() string { return fmt.Sprintf("%x", a[:]) }

// TxStatus is the monotone lifecycle of a transaction.
type TxStatus uint8

const (
	StatusNotSeen TxStatus = iota
	StatusInPool
	StatusInBlock
	StatusFinalized
	StatusReverted
)

func (s TxStatus) String() string {
	switch s {
	case StatusNotSeen:
		return "not_seen"
	case StatusInPool:
		return "in_pool"
	case StatusInBlock:
		return "in_block"
	case StatusFinalized:
		return "finalized"
	case StatusReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// Transaction is the ledger's signed account-and-nonce transaction
// tuple. Hash is derived from the canonical encoding; Sender is
// recoverable from the signature but is also carried in the encoding.
type Transaction struct {
	Nonce     uint64
	Sender    Address // populated by signature recovery; part of the encoding
	To        Address
	Value     uint64
	Gas       uint64
	GasPrice  uint64
	Data      []byte
	PubKey    []byte // embedded so Sender can be recovered from Signature+PubKey
	Signature []byte
}

// Hash returns the content hash of t's canonical encoding.
func (t *Transaction) Hash() Hash {
	return sum32(EncodeTransaction(t))
}

// SigningPreimage is the canonical encoding with the signature field
// dropped, i.e. what PubKey signs over.
func (t *Transaction) SigningPreimage() []byte {
	cp := *t
	cp.Signature = nil
	return EncodeTransaction(&cp)
}

// DAGBlock is a proposer-signed block in the block-DAG.
type DAGBlock struct {
	Pivot        Hash
	Tips         []Hash
	Level        uint64
	Timestamp    uint64
	Proposer     Address
	VDFProof     []byte
	Transactions []Hash
	PubKey       []byte
	Signature    []byte
}

// Parents returns {Pivot} ∪ Tips, i.e. all parent references.
func (b *DAGBlock) Parents() []Hash {
	out := make([]Hash, 0, 1+len(b.Tips))
	out = append(out, b.Pivot)
	out = append(out, b.Tips...)
	return out
}

// Hash returns the content hash of b's canonical encoding, excluding
// the hash itself (there is no self-referential field to exclude).
func (b *DAGBlock) Hash() Hash {
	return sum32(EncodeDAGBlock(b))
}

func (b *DAGBlock) SigningPreimage() []byte {
	cp := *b
	cp.Signature = nil
	return EncodeDAGBlock(&cp)
}

// PBFTBlock is one period's finalization record: a period number, its
// parent and the DAG anchor it finalizes. Its certified vote set is a
// separate CertifiedVoteSet, stored alongside it by the PBFT chain.
type PBFTBlock struct {
	Parent    Hash
	Period    uint64
	Anchor    Hash
	Proposer  Address
	Timestamp uint64
	PubKey    []byte
	Signature []byte
}

func (b *PBFTBlock) Hash() Hash {
	return sum32(EncodePBFTBlock(b))
}

func (b *PBFTBlock) SigningPreimage() []byte {
	cp := *b
	cp.Signature = nil
	return EncodePBFTBlock(&cp)
}

// Vote is a single committee member's vote over a PBFT block.
type Vote struct {
	BlockHash   Hash
	Voter       Address
	Round       uint64
	Step        uint32
	WeightProof []byte
	PubKey      []byte
	Signature   []byte
}

func (v *Vote) Hash() Hash {
	return sum32(EncodeVote(v))
}

func (v *Vote) SigningPreimage() []byte {
	cp := *v
	cp.Signature = nil
	return EncodeVote(&cp)
}

// CertifiedVoteSet is the set of votes over one PBFT block that a
// caller has already determined satisfies the committee threshold.
// The core stores and retrieves these; it does not evaluate the
// threshold itself.
type CertifiedVoteSet struct {
	BlockHash Hash
	Votes     []Vote
}
