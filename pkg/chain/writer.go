package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ioa-labs/ioa-core/pkg/chain/lease"
	"github.com/ioa-labs/ioa-core/pkg/storage"
)

// quarantineSuffix marks partial entry files left by an aborted append.
// The verifier and the writer both ignore them.
const quarantineSuffix = ".quarantine"

// Writer appends entries to chains under single-writer discipline. One
// Writer may serve many chains; per-chain locks serialize appends, and an
// optional leaser coordinates writers across processes.
type Writer struct {
	store    storage.Blob
	writerID string
	clock    func() time.Time
	leaser   lease.Leaser
	leaseTTL time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	chains map[string]*sync.Mutex
}

// NewWriter creates a chain writer identified as writerID.
func NewWriter(store storage.Blob, writerID string) *Writer {
	return &Writer{
		store:    store,
		writerID: writerID,
		clock:    time.Now,
		logger:   slog.Default().With("component", "chain.writer"),
		chains:   make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the clock for deterministic testing.
func (w *Writer) WithClock(clock func() time.Time) *Writer {
	w.clock = clock
	return w
}

// WithLeaser enables external lease coordination for multi-writer
// deployments. Each append acquires and releases a lease on the chain.
func (w *Writer) WithLeaser(l lease.Leaser, ttl time.Duration) *Writer {
	w.leaser = l
	w.leaseTTL = ttl
	return w
}

func (w *Writer) chainLock(chainID string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.chains[chainID]; !ok {
		w.chains[chainID] = &sync.Mutex{}
	}
	return w.chains[chainID]
}

// Append writes one entry with the given event type and payload to chainID.
// On success the returned entry is sealed and the manifest reflects it. On
// failure the chain is unchanged and the error wraps ErrDurability.
func (w *Writer) Append(ctx context.Context, chainID, eventType string, payload map[string]interface{}) (*Entry, error) {
	if chainID == "" {
		return nil, fmt.Errorf("chain id must not be empty")
	}
	if eventType == "" {
		return nil, fmt.Errorf("event type must not be empty")
	}

	lock := w.chainLock(chainID)
	lock.Lock()
	defer lock.Unlock()

	if w.leaser != nil {
		held, err := w.leaser.Acquire(ctx, "chains/"+chainID, w.writerID, w.leaseTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: lease acquisition failed: %v", ErrDurability, err)
		}
		defer func() {
			if relErr := w.leaser.Release(ctx, held); relErr != nil {
				w.logger.WarnContext(ctx, "lease release failed", "chain", chainID, "error", relErr)
			}
		}()
	}

	now := w.clock().UTC()
	manifest, err := w.readManifest(ctx, chainID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: manifest read failed: %v", ErrDurability, err)
	}
	if manifest == nil {
		manifest = NewManifest(chainID, now.Format(time.RFC3339Nano))
	}

	prevHash := manifest.TipHash
	if prevHash == "" {
		prevHash = ZeroHash
	}

	entry := &Entry{
		EventID:   manifest.LastEventID + 1,
		Timestamp: now.Format(time.RFC3339Nano),
		EventType: eventType,
		Writer:    w.writerID,
		Payload:   payload,
		PrevHash:  prevHash,
	}
	if err := entry.Seal(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	entryPath := EntryPath(chainID, entry)
	entryBytes, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: entry serialization failed: %v", ErrDurability, err)
	}

	if err := w.store.Put(ctx, entryPath, entryBytes); err != nil {
		// Best effort removal of a partial entry file; the manifest never
		// referenced it, so the chain is intact either way.
		_ = w.store.Delete(ctx, entryPath)
		return nil, fmt.Errorf("%w: entry write failed: %v", ErrDurability, err)
	}

	manifest.Advance(entry)
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		w.quarantine(ctx, entryPath, entryBytes)
		return nil, fmt.Errorf("%w: manifest serialization failed: %v", ErrDurability, err)
	}
	if err := w.store.AtomicReplace(ctx, ManifestPath(chainID), manifestBytes); err != nil {
		w.quarantine(ctx, entryPath, entryBytes)
		return nil, fmt.Errorf("%w: manifest write failed: %v", ErrDurability, err)
	}

	return entry, nil
}

// quarantine renames a written entry aside after a failed manifest update so
// the manifest never refers to an entry the chain does not acknowledge.
func (w *Writer) quarantine(ctx context.Context, entryPath string, entryBytes []byte) {
	if err := w.store.Put(ctx, entryPath+quarantineSuffix, entryBytes); err == nil {
		_ = w.store.Delete(ctx, entryPath)
	} else {
		// Quarantine copy failed; remove the original outright.
		_ = w.store.Delete(ctx, entryPath)
	}
	w.logger.Warn("append aborted, entry quarantined", "path", entryPath)
}

// Manifest returns a snapshot of the chain's manifest.
func (w *Writer) Manifest(ctx context.Context, chainID string) (*Manifest, error) {
	lock := w.chainLock(chainID)
	lock.Lock()
	defer lock.Unlock()
	return w.readManifest(ctx, chainID)
}

func (w *Writer) readManifest(ctx context.Context, chainID string) (*Manifest, error) {
	data, err := w.store.Get(ctx, ManifestPath(chainID))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest parse failed: %v", ErrIntegrity, err)
	}
	return &m, nil
}

// WriteAnchor writes a dated anchor for the chain's current root hash and
// records its path in the manifest's anchor refs. The anchor is signed when
// a keyring is supplied.
func (w *Writer) WriteAnchor(ctx context.Context, chainID, anchorType, anchorRef string, metadata map[string]interface{}, keyring *AnchorKeyring) (*Anchor, string, error) {
	lock := w.chainLock(chainID)
	lock.Lock()
	defer lock.Unlock()

	manifest, err := w.readManifest(ctx, chainID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", fmt.Errorf("chain %s does not exist", chainID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: manifest read failed: %v", ErrDurability, err)
	}
	if manifest.Length == 0 {
		return nil, "", fmt.Errorf("chain %s has no entries to anchor", chainID)
	}

	now := w.clock().UTC()
	anchor := &Anchor{
		ChainID:    chainID,
		RootHash:   manifest.RootHash,
		AnchoredAt: now.Format(time.RFC3339Nano),
		AnchorType: anchorType,
		AnchorRef:  anchorRef,
		Metadata:   metadata,
	}
	if keyring != nil {
		if err := keyring.Sign(anchor); err != nil {
			return nil, "", fmt.Errorf("anchor signing failed: %w", err)
		}
	}

	path := AnchorPath(chainID, now)
	data, err := json.Marshal(anchor)
	if err != nil {
		return nil, "", fmt.Errorf("%w: anchor serialization failed: %v", ErrDurability, err)
	}
	if err := w.store.Put(ctx, path, data); err != nil {
		return nil, "", fmt.Errorf("%w: anchor write failed: %v", ErrDurability, err)
	}

	manifest.AnchorRefs = append(manifest.AnchorRefs, path)
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return nil, "", fmt.Errorf("%w: manifest serialization failed: %v", ErrDurability, err)
	}
	if err := w.store.AtomicReplace(ctx, ManifestPath(chainID), manifestBytes); err != nil {
		return nil, "", fmt.Errorf("%w: manifest write failed: %v", ErrDurability, err)
	}

	return anchor, path, nil
}
