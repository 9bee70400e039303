package crypto

import (
	"crypto/ed25519"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// DevStdProvider backs Provider with ed25519 signatures and SHA3-256
// hashing, both from well-audited standard/x libraries rather than a
// hand-rolled scheme. Despite the name, ed25519/SHA3 are production
// grade; "Dev" here only reflects that it is a pure-software
// implementation with no HSM-backed key custody.
type DevStdProvider struct{}

func (DevStdProvider) Hash(input []byte) [32]byte {
	h := sha3.New256()
	_, _ = h.Write(input)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (DevStdProvider) Sign(priv []byte, preimage []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	return ed25519.Sign(ed25519.PrivateKey(priv), preimage), nil
}

func (DevStdProvider) Verify(pub []byte, sig []byte, preimage []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), preimage, sig)
}
