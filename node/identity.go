package node

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dagledger/node/crypto"
	"github.com/dagledger/node/ledger"
)

const identityFileName = "identity.json"

type identityFile struct {
	PublicKey   string `json:"public_key"`
	WrappedSeed string `json:"wrapped_seed"`
}

// ProposerIdentity holds the node's DAG-block proposer key pair. The
// private seed is kept encrypted at rest with AES-KW, and only held
// in the clear in memory.
type ProposerIdentity struct {
	PublicKey []byte
	privSeed  []byte // ed25519 seed, 32 bytes
}

// Address derives the 20-byte account address from the public key.
func (id *ProposerIdentity) Address() ledger.Address {
	digest := crypto.DevStdProvider{}.Hash(id.PublicKey)
	var a ledger.Address
	copy(a[:], digest[:20])
	return a
}

// Sign signs preimage with the proposer's private key.
func (id *ProposerIdentity) Sign(preimage []byte) []byte {
	priv := ed25519.NewKeyFromSeed(id.privSeed)
	return ed25519.Sign(priv, preimage)
}

// LoadOrCreateIdentity reads dataDir/identity.json, generating and
// persisting a fresh ed25519 keypair if absent. kek is the 32-byte
// key-encryption-key used to wrap the seed at rest (e.g. derived from
// an operator-supplied passphrase).
func LoadOrCreateIdentity(dataDir string, kek []byte) (*ProposerIdentity, error) {
	raw, err := readFileFromDir(dataDir, identityFileName)
	if err == nil {
		var disk identityFile
		if err := json.Unmarshal(raw, &disk); err != nil {
			return nil, fmt.Errorf("node: parse identity file: %w", err)
		}
		pub, err := hex.DecodeString(disk.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("node: decode identity public key: %w", err)
		}
		wrapped, err := hex.DecodeString(disk.WrappedSeed)
		if err != nil {
			return nil, fmt.Errorf("node: decode wrapped seed: %w", err)
		}
		seed, err := crypto.AESKeyUnwrapRFC3394(kek, wrapped)
		if err != nil {
			return nil, fmt.Errorf("node: unwrap proposer seed: %w", err)
		}
		return &ProposerIdentity{PublicKey: pub, privSeed: seed}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("node: read identity file: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("node: generate proposer key: %w", err)
	}
	seed := priv.Seed()
	wrapped, err := crypto.AESKeyWrapRFC3394(kek, seed)
	if err != nil {
		return nil, fmt.Errorf("node: wrap proposer seed: %w", err)
	}
	disk := identityFile{
		PublicKey:   hex.EncodeToString(pub),
		WrappedSeed: hex.EncodeToString(wrapped),
	}
	out, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, identityFileName)
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return nil, fmt.Errorf("node: write identity file: %w", err)
	}
	return &ProposerIdentity{PublicKey: pub, privSeed: seed}, nil
}
