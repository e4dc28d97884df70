//go:build property
// +build property

// Property-based tests for chain append and verification invariants.
package chain

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ioa-labs/ioa-core/pkg/storage"
)

// TestChainLinkInvariant verifies that for any sequence of appended payloads,
// every entry hash recomputes and every prev_hash links to its predecessor.
func TestChainLinkInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("appended chains always verify", prop.ForAll(
		func(values []string) bool {
			if len(values) == 0 {
				return true
			}
			ctx := context.Background()
			store := storage.NewMemoryStore()
			w := NewWriter(store, "prop-writer")

			for _, v := range values {
				if _, err := w.Append(ctx, "p1", "audit", map[string]interface{}{"v": v}); err != nil {
					return false
				}
			}

			res := VerifyChain(ctx, store, "p1", VerifyOptions{Strict: true})
			return res.OK && res.Length == len(values)
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}

// TestTamperAlwaysDetected verifies that changing any payload value after
// append is reported by verification.
func TestTamperAlwaysDetected(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("payload tampering is always reported", prop.ForAll(
		func(a, b string) bool {
			if a == b {
				return true
			}
			ctx := context.Background()
			store := storage.NewMemoryStore()
			w := NewWriter(store, "prop-writer")

			e, err := w.Append(ctx, "p1", "audit", map[string]interface{}{"v": a})
			if err != nil {
				return false
			}

			// Rewrite the entry with a different payload but the old hash.
			tampered := *e
			tampered.Payload = map[string]interface{}{"v": b}
			data, err := json.Marshal(&tampered)
			if err != nil {
				return false
			}
			if err := store.Put(ctx, EntryPath("p1", e), data); err != nil {
				return false
			}

			res := VerifyChain(ctx, store, "p1", VerifyOptions{})
			return !res.OK
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestManifestAgreement verifies the manifest always describes the entries.
func TestManifestAgreement(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("manifest length/root/tip agree with entries", prop.ForAll(
		func(n uint8) bool {
			count := int(n%16) + 1
			ctx := context.Background()
			store := storage.NewMemoryStore()
			w := NewWriter(store, "prop-writer")

			var first, last *Entry
			for i := 0; i < count; i++ {
				e, err := w.Append(ctx, "p1", "audit", map[string]interface{}{"i": i})
				if err != nil {
					return false
				}
				if first == nil {
					first = e
				}
				last = e
			}

			m, err := w.Manifest(ctx, "p1")
			if err != nil {
				return false
			}
			return m.Length == count && m.RootHash == first.Hash && m.TipHash == last.Hash
		},
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
