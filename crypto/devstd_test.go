package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"
)

func TestDevStdHashKnownVector(t *testing.T) {
	p := DevStdProvider{}
	sum := p.Hash([]byte("abc"))
	// SHA3-256("abc")
	const want = "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"
	got := hex.EncodeToString(sum[:])
	if got != want {
		t.Fatalf("digest mismatch: got=%s want=%s", got, want)
	}
}

func TestDevStdSignAndVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p := DevStdProvider{}
	preimage := []byte("transaction preimage")

	sig, err := p.Sign(priv, preimage)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !p.Verify(pub, sig, preimage) {
		t.Fatalf("expected signature to verify")
	}
	if p.Verify(pub, sig, []byte("tampered")) {
		t.Fatalf("expected tampered preimage to fail verification")
	}
}

func TestDevStdSignRejectsWrongKeySize(t *testing.T) {
	p := DevStdProvider{}
	if _, err := p.Sign(make([]byte, 4), []byte("x")); err == nil {
		t.Fatalf("expected error for undersized private key")
	}
}
