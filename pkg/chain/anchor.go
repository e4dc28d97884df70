package chain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/ioa-labs/ioa-core/pkg/canonicalize"
)

// Anchor is an external witness binding a chain's root hash to a point in
// time, optionally referencing an immutable external record.
type Anchor struct {
	ChainID    string                 `json:"chain_id"`
	RootHash   string                 `json:"root_hash"`
	AnchoredAt string                 `json:"anchored_at"`
	AnchorType string                 `json:"anchor_type"`
	AnchorRef  string                 `json:"anchor_ref"`
	Metadata   map[string]interface{} `json:"metadata"`
	Signature  string                 `json:"signature,omitempty"`
}

// Known anchor types.
const (
	AnchorTypeVCSCommit = "vcs-commit"
	AnchorTypeTimestamp = "timestamp-authority"
	AnchorTypeOperator  = "operator"
)

// AnchorPath returns the dated blob path for a chain anchor,
// e.g. "anchors/2026/08/24/t1_root.json".
func AnchorPath(chainID string, at time.Time) string {
	return fmt.Sprintf("anchors/%04d/%02d/%02d/%s_root.json",
		at.Year(), at.Month(), at.Day(), chainID)
}

// AnchorKeyring signs and verifies anchors with an ed25519 key derived from
// an operator seed via HKDF-SHA256. Swappable for an HSM or KMS later; the
// signature is detached and covers the canonical anchor minus its signature
// field.
type AnchorKeyring struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewAnchorKeyring derives a signing keypair from an operator seed. The same
// seed always yields the same keypair, so verifiers only need the seed's
// public counterpart.
func NewAnchorKeyring(seed []byte) (*AnchorKeyring, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("anchor keyring seed must not be empty")
	}
	r := hkdf.New(sha256.New, seed, []byte("ioa-anchor-kdf"), []byte("anchor-signing"))
	keySeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, keySeed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(keySeed)
	return &AnchorKeyring{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// PublicKey returns the verification key.
func (k *AnchorKeyring) PublicKey() ed25519.PublicKey {
	return k.pub
}

// Sign computes the detached signature over the canonical anchor (minus the
// signature field) and stores it on the anchor.
func (k *AnchorKeyring) Sign(a *Anchor) error {
	stripped := *a
	stripped.Signature = ""
	msg, err := canonicalize.JCS(&stripped)
	if err != nil {
		return fmt.Errorf("anchor canonicalization failed: %w", err)
	}
	a.Signature = hex.EncodeToString(ed25519.Sign(k.priv, msg))
	return nil
}

// Verify checks the anchor's detached signature against pub.
func Verify(a *Anchor, pub ed25519.PublicKey) (bool, error) {
	if a.Signature == "" {
		return false, fmt.Errorf("anchor carries no signature")
	}
	sig, err := hex.DecodeString(a.Signature)
	if err != nil {
		return false, fmt.Errorf("malformed anchor signature: %w", err)
	}
	stripped := *a
	stripped.Signature = ""
	msg, err := canonicalize.JCS(&stripped)
	if err != nil {
		return false, fmt.Errorf("anchor canonicalization failed: %w", err)
	}
	return ed25519.Verify(pub, msg, sig), nil
}
