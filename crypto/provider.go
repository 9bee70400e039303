// Package crypto provides the signing/verification backend and the
// AES key wrap used by the node's proposer identity (node/identity.go).
package crypto

// Provider is the narrow crypto interface the core calls through.
// Implementations may back it with a software keystore, an HSM, or a
// remote signer.
type Provider interface {
	Hash(input []byte) [32]byte
	Sign(priv []byte, preimage []byte) (sig []byte, err error)
	Verify(pub []byte, sig []byte, preimage []byte) bool
}
