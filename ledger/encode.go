package ledger

import (
	"encoding/binary"
	"fmt"
)

// EncodeTransaction serializes t into its canonical byte representation:
//
//	nonce u64le | sender 20 | to 20 | value u64le | gas u64le |
//	gas_price u64le | data (varint-prefixed) | pubkey (varint-prefixed) |
//	signature (varint-prefixed)
//
// Sender is carried in the encoding (even though it is re-derivable
// from PubKey) so that decode round-trips without re-running recovery.
func EncodeTransaction(t *Transaction) []byte {
	out := make([]byte, 0, 8+20+20+8+8+8+len(t.Data)+len(t.PubKey)+len(t.Signature)+12)
	out = binary.LittleEndian.AppendUint64(out, t.Nonce)
	out = appendAddress(out, t.Sender)
	out = appendAddress(out, t.To)
	out = binary.LittleEndian.AppendUint64(out, t.Value)
	out = binary.LittleEndian.AppendUint64(out, t.Gas)
	out = binary.LittleEndian.AppendUint64(out, t.GasPrice)
	out = appendBytes(out, t.Data)
	out = appendBytes(out, t.PubKey)
	out = appendBytes(out, t.Signature)
	return out
}

// DecodeTransaction is the inverse of EncodeTransaction.
func DecodeTransaction(buf []byte) (*Transaction, error) {
	var t Transaction
	var n int
	var err error

	if len(buf) < 8 {
		return nil, fmt.Errorf("ledger: truncated transaction")
	}
	t.Nonce = binary.LittleEndian.Uint64(buf[:8])
	buf = buf[8:]

	if t.Sender, n, err = readAddress(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]
	if t.To, n, err = readAddress(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]

	if len(buf) < 24 {
		return nil, fmt.Errorf("ledger: truncated transaction")
	}
	t.Value = binary.LittleEndian.Uint64(buf[0:8])
	t.Gas = binary.LittleEndian.Uint64(buf[8:16])
	t.GasPrice = binary.LittleEndian.Uint64(buf[16:24])
	buf = buf[24:]

	if t.Data, n, err = readBytes(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]
	if t.PubKey, n, err = readBytes(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]
	if t.Signature, _, err = readBytes(buf); err != nil {
		return nil, err
	}
	return &t, nil
}

// EncodeDAGBlock serializes b into its canonical byte representation:
//
//	pivot 32 | tips count (varint) + tips 32 each | level u64le |
//	timestamp u64le | proposer 20 | vdf_proof (varint-prefixed) |
//	tx count (varint) + tx hashes 32 each | pubkey (varint-prefixed) |
//	signature (varint-prefixed)
func EncodeDAGBlock(b *DAGBlock) []byte {
	out := make([]byte, 0, 32+9+32*len(b.Tips)+8+8+20+len(b.VDFProof)+9+32*len(b.Transactions))
	out = appendHash(out, b.Pivot)
	out = AppendVarint(out, uint64(len(b.Tips)))
	for _, h := range b.Tips {
		out = appendHash(out, h)
	}
	out = binary.LittleEndian.AppendUint64(out, b.Level)
	out = binary.LittleEndian.AppendUint64(out, b.Timestamp)
	out = appendAddress(out, b.Proposer)
	out = appendBytes(out, b.VDFProof)
	out = AppendVarint(out, uint64(len(b.Transactions)))
	for _, h := range b.Transactions {
		out = appendHash(out, h)
	}
	out = appendBytes(out, b.PubKey)
	out = appendBytes(out, b.Signature)
	return out
}

// DecodeDAGBlock is the inverse of EncodeDAGBlock.
func DecodeDAGBlock(buf []byte) (*DAGBlock, error) {
	var b DAGBlock
	var n int
	var err error

	if b.Pivot, n, err = readHash(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]

	tipCount, consumed, err := ReadVarint(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[consumed:]
	b.Tips = make([]Hash, tipCount)
	for i := range b.Tips {
		if b.Tips[i], n, err = readHash(buf); err != nil {
			return nil, err
		}
		buf = buf[n:]
	}

	if len(buf) < 16 {
		return nil, fmt.Errorf("ledger: truncated dag block")
	}
	b.Level = binary.LittleEndian.Uint64(buf[0:8])
	b.Timestamp = binary.LittleEndian.Uint64(buf[8:16])
	buf = buf[16:]

	if b.Proposer, n, err = readAddress(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]

	if b.VDFProof, n, err = readBytes(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]

	txCount, consumed, err := ReadVarint(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[consumed:]
	b.Transactions = make([]Hash, txCount)
	for i := range b.Transactions {
		if b.Transactions[i], n, err = readHash(buf); err != nil {
			return nil, err
		}
		buf = buf[n:]
	}

	if b.PubKey, n, err = readBytes(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]
	if b.Signature, _, err = readBytes(buf); err != nil {
		return nil, err
	}
	return &b, nil
}

// EncodePBFTBlock serializes p into its canonical byte representation:
//
//	parent 32 | period u64le | anchor 32 | proposer 20 | timestamp u64le |
//	pubkey (varint-prefixed) | signature (varint-prefixed)
func EncodePBFTBlock(p *PBFTBlock) []byte {
	out := make([]byte, 0, 32+8+32+20+8+9+len(p.PubKey)+9+len(p.Signature))
	out = appendHash(out, p.Parent)
	out = binary.LittleEndian.AppendUint64(out, p.Period)
	out = appendHash(out, p.Anchor)
	out = appendAddress(out, p.Proposer)
	out = binary.LittleEndian.AppendUint64(out, p.Timestamp)
	out = appendBytes(out, p.PubKey)
	out = appendBytes(out, p.Signature)
	return out
}

// DecodePBFTBlock is the inverse of EncodePBFTBlock.
func DecodePBFTBlock(buf []byte) (*PBFTBlock, error) {
	var p PBFTBlock
	var n int
	var err error

	if p.Parent, n, err = readHash(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]
	if len(buf) < 8 {
		return nil, fmt.Errorf("ledger: truncated pbft block")
	}
	p.Period = binary.LittleEndian.Uint64(buf[:8])
	buf = buf[8:]
	if p.Anchor, n, err = readHash(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]
	if p.Proposer, n, err = readAddress(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]
	if len(buf) < 8 {
		return nil, fmt.Errorf("ledger: truncated pbft block")
	}
	p.Timestamp = binary.LittleEndian.Uint64(buf[:8])
	buf = buf[8:]
	if p.PubKey, n, err = readBytes(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]
	if p.Signature, _, err = readBytes(buf); err != nil {
		return nil, err
	}
	return &p, nil
}

// EncodeVote serializes v into its canonical byte representation.
func EncodeVote(v *Vote) []byte {
	out := make([]byte, 0, 32+20+8+4+9+len(v.WeightProof)+9+len(v.PubKey)+9+len(v.Signature))
	out = appendHash(out, v.BlockHash)
	out = appendAddress(out, v.Voter)
	out = binary.LittleEndian.AppendUint64(out, v.Round)
	out = binary.LittleEndian.AppendUint32(out, v.Step)
	out = appendBytes(out, v.WeightProof)
	out = appendBytes(out, v.PubKey)
	out = appendBytes(out, v.Signature)
	return out
}

// DecodeVote is the inverse of EncodeVote.
func DecodeVote(buf []byte) (*Vote, error) {
	var v Vote
	var n int
	var err error

	if v.BlockHash, n, err = readHash(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]
	if v.Voter, n, err = readAddress(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]
	if len(buf) < 12 {
		return nil, fmt.Errorf("ledger: truncated vote")
	}
	v.Round = binary.LittleEndian.Uint64(buf[0:8])
	v.Step = binary.LittleEndian.Uint32(buf[8:12])
	buf = buf[12:]
	if v.WeightProof, n, err = readBytes(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]
	if v.PubKey, n, err = readBytes(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]
	if v.Signature, _, err = readBytes(buf); err != nil {
		return nil, err
	}
	return &v, nil
}

// EncodeVoteSet serializes a CertifiedVoteSet as a length-prefixed
// list of votes, for storage under the votes column.
func EncodeVoteSet(vs *CertifiedVoteSet) []byte {
	out := appendHash(nil, vs.BlockHash)
	out = AppendVarint(out, uint64(len(vs.Votes)))
	for i := range vs.Votes {
		out = appendBytes(out, EncodeVote(&vs.Votes[i]))
	}
	return out
}

// DecodeVoteSet is the inverse of EncodeVoteSet.
func DecodeVoteSet(buf []byte) (*CertifiedVoteSet, error) {
	var vs CertifiedVoteSet
	var n int
	var err error
	if vs.BlockHash, n, err = readHash(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]
	count, consumed, err := ReadVarint(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[consumed:]
	vs.Votes = make([]Vote, count)
	for i := range vs.Votes {
		raw, m, err := readBytes(buf)
		if err != nil {
			return nil, err
		}
		buf = buf[m:]
		v, err := DecodeVote(raw)
		if err != nil {
			return nil, err
		}
		vs.Votes[i] = *v
	}
	return &vs, nil
}

// EncodeHashList serializes an ordered slice of hashes as a
// length-prefixed list, used for dag_finalized_blocks values.
func EncodeHashList(hashes []Hash) []byte {
	out := make([]byte, 0, 9+32*len(hashes))
	out = AppendVarint(out, uint64(len(hashes)))
	for _, h := range hashes {
		out = appendHash(out, h)
	}
	return out
}

// DecodeHashList is the inverse of EncodeHashList.
func DecodeHashList(buf []byte) ([]Hash, error) {
	count, consumed, err := ReadVarint(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[consumed:]
	out := make([]Hash, count)
	var n int
	for i := range out {
		if out[i], n, err = readHash(buf); err != nil {
			return nil, err
		}
		buf = buf[n:]
	}
	return out, nil
}
