package chain

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ioa-labs/ioa-core/pkg/storage"
)

// BreakKind classifies a verification failure.
type BreakKind string

const (
	BreakHashMismatch      BreakKind = "hash_mismatch"
	BreakChainBreak        BreakKind = "chain_break"
	BreakLengthMismatch    BreakKind = "length_mismatch"
	BreakAnchorMismatch    BreakKind = "anchor_mismatch"
	BreakVerificationError BreakKind = "verification_error"
	BreakMissingManifest   BreakKind = "missing_manifest"
)

// Break is one verification failure. Data-level problems never surface as
// errors from VerifyChain; they become breaks in the result.
type Break struct {
	Kind    BreakKind `json:"kind"`
	EventID int64     `json:"event_id,omitempty"`
	Detail  string    `json:"detail"`
}

// VerifyOptions tunes a chain verification pass.
type VerifyOptions struct {
	// StartAfter skips entries with event_id <= StartAfter. Partial scans
	// cannot check the manifest root or total length.
	StartAfter int64

	// Since skips entries older than the given time.
	Since time.Time

	// Anchor, when non-nil, is compared against the computed root hash.
	Anchor *Anchor

	// AnchorPublicKey verifies the anchor's detached signature when set.
	AnchorPublicKey ed25519.PublicKey

	// IgnoreSignatures skips anchor signature checks.
	IgnoreSignatures bool

	// Strict promotes a missing manifest or a dangling manifest anchor ref
	// from warning to failure.
	Strict bool

	// FailFast stops at the first break.
	FailFast bool
}

// Result is the outcome of one verification pass.
type Result struct {
	ChainID   string    `json:"chain_id"`
	OK        bool      `json:"ok"`
	Length    int       `json:"length"`
	RootHash  string    `json:"root_hash,omitempty"`
	TipHash   string    `json:"tip_hash,omitempty"`
	Breaks    []Break   `json:"breaks"`
	Warnings  []string  `json:"warnings,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

func (r *Result) addBreak(b Break) {
	r.Breaks = append(r.Breaks, b)
	r.OK = false
}

// VerifyChain re-reads a chain from storage and checks every invariant:
// per-entry canonical hashes, prev-hash links, manifest agreement, and
// optionally an anchor. Read failures become verification_error breaks.
func VerifyChain(ctx context.Context, store storage.Blob, chainID string, opts VerifyOptions) *Result {
	result := &Result{
		ChainID:   chainID,
		OK:        true,
		Breaks:    []Break{},
		CheckedAt: time.Now().UTC(),
	}

	fullScan := opts.StartAfter == 0 && opts.Since.IsZero()

	entries, readBreaks := loadEntries(ctx, store, chainID)
	for _, b := range readBreaks {
		result.addBreak(b)
		if opts.FailFast {
			return result
		}
	}

	var prev *Entry
	var prevComputed string
	verified := 0
	for _, e := range entries {
		if opts.StartAfter > 0 && e.EventID <= opts.StartAfter {
			prev, prevComputed = e, e.Hash
			continue
		}
		if !opts.Since.IsZero() {
			ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
			if err == nil && ts.Before(opts.Since) {
				prev, prevComputed = e, e.Hash
				continue
			}
		}

		verified++

		computed, err := e.ComputeHash()
		if err != nil {
			// Fall back to the stored hash for the link check below.
			computed = e.Hash
			result.addBreak(Break{Kind: BreakVerificationError, EventID: e.EventID, Detail: err.Error()})
			if opts.FailFast {
				return result
			}
		} else if computed != e.Hash {
			result.addBreak(Break{
				Kind:    BreakHashMismatch,
				EventID: e.EventID,
				Detail:  fmt.Sprintf("stored hash %s, recomputed %s", e.Hash, computed),
			})
			if opts.FailFast {
				return result
			}
		}

		switch {
		case prev == nil:
			// First enumerated entry. Only a full scan can pin its prev_hash.
			if fullScan {
				if e.EventID != 1 {
					result.addBreak(Break{
						Kind:    BreakChainBreak,
						EventID: e.EventID,
						Detail:  fmt.Sprintf("chain starts at event_id %d, expected 1", e.EventID),
					})
				} else if e.PrevHash != ZeroHash {
					result.addBreak(Break{
						Kind:    BreakChainBreak,
						EventID: e.EventID,
						Detail:  "first entry prev_hash is not the zero hash",
					})
				}
			}
		case e.EventID == prev.EventID+1:
			// Link against the recomputed predecessor hash so a tampered
			// entry also surfaces as a break on its successor.
			if e.PrevHash != prevComputed {
				result.addBreak(Break{
					Kind:    BreakChainBreak,
					EventID: e.EventID,
					Detail:  fmt.Sprintf("prev_hash %s does not match entry %d hash %s", e.PrevHash, prev.EventID, prevComputed),
				})
			}
		default:
			result.addBreak(Break{
				Kind:    BreakChainBreak,
				EventID: e.EventID,
				Detail:  fmt.Sprintf("event_id gap after %d", prev.EventID),
			})
		}
		if opts.FailFast && !result.OK {
			return result
		}

		prev, prevComputed = e, computed
	}

	result.Length = verified
	if len(entries) > 0 {
		if fullScan {
			result.RootHash = entries[0].Hash
		}
		result.TipHash = entries[len(entries)-1].Hash
	}

	checkManifest(ctx, store, chainID, entries, fullScan, opts, result)
	if opts.FailFast && !result.OK {
		return result
	}

	if opts.Anchor != nil {
		checkAnchor(opts, entries, result)
	}

	return result
}

// loadEntries enumerates and parses entry files in event_id order.
// Unreadable or unparsable files become verification_error breaks.
func loadEntries(ctx context.Context, store storage.Blob, chainID string) ([]*Entry, []Break) {
	prefix := fmt.Sprintf("chains/%s/", chainID)
	paths, err := store.List(ctx, prefix)
	if err != nil {
		return nil, []Break{{Kind: BreakVerificationError, Detail: fmt.Sprintf("list failed: %v", err)}}
	}

	var breaks []Break
	var entries []*Entry
	for _, p := range paths {
		name := path.Base(p)
		if name == "MANIFEST.json" || strings.HasSuffix(name, quarantineSuffix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		// Entry names carry the event id as a leading digit run. The run is
		// zero-padded to six digits but grows past that for long chains.
		idx := strings.IndexByte(name, '_')
		if idx < 1 {
			continue
		}
		eventID, convErr := strconv.ParseInt(name[:idx], 10, 64)
		if convErr != nil {
			continue
		}

		data, getErr := store.Get(ctx, p)
		if getErr != nil {
			breaks = append(breaks, Break{Kind: BreakVerificationError, EventID: eventID, Detail: fmt.Sprintf("read failed: %v", getErr)})
			continue
		}
		var e Entry
		if umErr := json.Unmarshal(data, &e); umErr != nil {
			breaks = append(breaks, Break{Kind: BreakVerificationError, EventID: eventID, Detail: fmt.Sprintf("parse failed: %v", umErr)})
			continue
		}
		entries = append(entries, &e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].EventID < entries[j].EventID })
	return entries, breaks
}

func checkManifest(ctx context.Context, store storage.Blob, chainID string, entries []*Entry, fullScan bool, opts VerifyOptions, result *Result) {
	data, err := store.Get(ctx, ManifestPath(chainID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if opts.Strict {
				result.addBreak(Break{Kind: BreakMissingManifest, Detail: "manifest not found"})
			} else {
				result.Warnings = append(result.Warnings, "manifest not found")
			}
			return
		}
		result.addBreak(Break{Kind: BreakVerificationError, Detail: fmt.Sprintf("manifest read failed: %v", err)})
		return
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		result.addBreak(Break{Kind: BreakVerificationError, Detail: fmt.Sprintf("manifest parse failed: %v", err)})
		return
	}

	if !fullScan {
		return
	}

	if m.Length != len(entries) {
		result.addBreak(Break{
			Kind:   BreakLengthMismatch,
			Detail: fmt.Sprintf("manifest length %d, entries found %d", m.Length, len(entries)),
		})
	}
	if len(entries) > 0 {
		if m.RootHash != entries[0].Hash {
			result.addBreak(Break{
				Kind:   BreakLengthMismatch,
				Detail: fmt.Sprintf("manifest root_hash %s does not match entry 1 hash %s", m.RootHash, entries[0].Hash),
			})
		}
		tip := entries[len(entries)-1]
		if m.TipHash != tip.Hash {
			result.addBreak(Break{
				Kind:   BreakLengthMismatch,
				Detail: fmt.Sprintf("manifest tip_hash %s does not match entry %d hash %s", m.TipHash, tip.EventID, tip.Hash),
			})
		}
	}

	for _, ref := range m.AnchorRefs {
		if _, err := store.Get(ctx, ref); err != nil {
			if opts.Strict {
				result.addBreak(Break{Kind: BreakAnchorMismatch, Detail: fmt.Sprintf("anchor ref %s unreadable: %v", ref, err)})
			} else {
				result.Warnings = append(result.Warnings, fmt.Sprintf("anchor ref %s unreadable", ref))
			}
		}
	}
}

func checkAnchor(opts VerifyOptions, entries []*Entry, result *Result) {
	anchor := opts.Anchor
	if anchor.ChainID != result.ChainID {
		result.addBreak(Break{
			Kind:   BreakAnchorMismatch,
			Detail: fmt.Sprintf("anchor chain_id %s does not match %s", anchor.ChainID, result.ChainID),
		})
		return
	}
	if len(entries) == 0 {
		result.addBreak(Break{Kind: BreakAnchorMismatch, Detail: "anchor supplied for empty chain"})
		return
	}
	if anchor.RootHash != entries[0].Hash {
		result.addBreak(Break{
			Kind:   BreakAnchorMismatch,
			Detail: fmt.Sprintf("anchor root_hash %s does not match computed root %s", anchor.RootHash, entries[0].Hash),
		})
	}
	if !opts.IgnoreSignatures && opts.AnchorPublicKey != nil {
		ok, err := Verify(anchor, opts.AnchorPublicKey)
		if err != nil {
			result.addBreak(Break{Kind: BreakAnchorMismatch, Detail: fmt.Sprintf("anchor signature check failed: %v", err)})
		} else if !ok {
			result.addBreak(Break{Kind: BreakAnchorMismatch, Detail: "anchor signature invalid"})
		}
	}
}
