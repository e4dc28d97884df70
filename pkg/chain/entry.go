// Package chain implements append-only, hash-linked audit chains with
// per-chain manifests and external anchors.
//
// Every entry is canonicalized per RFC 8785 before hashing; the stored hash
// covers the whole entry minus its own hash field. Entries link through
// prev_hash, so any byte flipped in a persisted entry is detectable by an
// independent verifier holding nothing but the chain directory.
package chain

import (
	"errors"
	"fmt"

	"github.com/ioa-labs/ioa-core/pkg/canonicalize"
)

// ZeroHash is the prev_hash of the first entry in a chain.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

var (
	// ErrIntegrity marks a violated chain invariant (hash or link mismatch).
	ErrIntegrity = errors.New("integrity: audit chain invariant violated")

	// ErrDurability marks a failed storage write during append. The chain is
	// rewound; the caller must treat the append as not having happened.
	ErrDurability = errors.New("durability: audit storage write failed")
)

// Entry is one record in a chain. Immutable once written.
type Entry struct {
	EventID   int64                  `json:"event_id"`
	Timestamp string                 `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Writer    string                 `json:"writer"`
	Payload   map[string]interface{} `json:"payload"`
	PrevHash  string                 `json:"prev_hash"`
	Hash      string                 `json:"hash,omitempty"`
}

// ComputeHash returns the lowercase hex SHA-256 of the canonical form of the
// entry with its hash field removed.
func (e *Entry) ComputeHash() (string, error) {
	stripped := *e
	stripped.Hash = ""
	h, err := canonicalize.CanonicalHash(&stripped)
	if err != nil {
		return "", fmt.Errorf("entry canonicalization failed: %w", err)
	}
	return h, nil
}

// Seal computes and stores the entry's own hash.
func (e *Entry) Seal() error {
	h, err := e.ComputeHash()
	if err != nil {
		return err
	}
	e.Hash = h
	return nil
}

// FileName returns the storage-relative file name for the entry,
// e.g. "000042_policy_decision.json".
func (e *Entry) FileName() string {
	return fmt.Sprintf("%06d_%s.json", e.EventID, e.EventType)
}

// EntryPath returns the full blob path of an entry within a chain.
func EntryPath(chainID string, e *Entry) string {
	return fmt.Sprintf("chains/%s/%s", chainID, e.FileName())
}

// ManifestPath returns the blob path of a chain's manifest.
func ManifestPath(chainID string) string {
	return fmt.Sprintf("chains/%s/MANIFEST.json", chainID)
}
