// Queryable timeline over audit chain entries. The chain is the durable
// record; the timeline is a read-side view for operators, loaded from blob
// storage and filterable by chain, event type and time range.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ioa-labs/ioa-core/pkg/chain"
	"github.com/ioa-labs/ioa-core/pkg/storage"
)

// TimelineEntry is one audit event projected from a chain entry.
type TimelineEntry struct {
	ChainID   string                 `json:"chain_id"`
	EventID   int64                  `json:"event_id"`
	EventType string                 `json:"event_type"`
	Writer    string                 `json:"writer"`
	Timestamp time.Time              `json:"timestamp"`
	Hash      string                 `json:"hash"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// TimelineQuery filters timeline entries.
type TimelineQuery struct {
	ChainID   string     `json:"chain_id,omitempty"`
	EventType string     `json:"event_type,omitempty"`
	After     *time.Time `json:"after,omitempty"`
	Before    *time.Time `json:"before,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// AuditTimeline collects and queries audit events across chains.
type AuditTimeline struct {
	mu      sync.RWMutex
	entries []TimelineEntry
	byChain map[string][]int
}

// NewAuditTimeline creates an empty timeline.
func NewAuditTimeline() *AuditTimeline {
	return &AuditTimeline{byChain: make(map[string][]int)}
}

// LoadChain reads every entry of the given chain from blob storage into the
// timeline. Quarantined entry files are skipped.
func (t *AuditTimeline) LoadChain(ctx context.Context, store storage.Blob, chainID string) error {
	paths, err := store.List(ctx, fmt.Sprintf("chains/%s/", chainID))
	if err != nil {
		return fmt.Errorf("list chain %s: %w", chainID, err)
	}

	for _, path := range paths {
		base := path[strings.LastIndex(path, "/")+1:]
		if base == "MANIFEST.json" || strings.HasSuffix(base, ".quarantine") {
			continue
		}
		data, err := store.Get(ctx, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var entry chain.Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp in %s: %w", path, err)
		}
		t.Record(TimelineEntry{
			ChainID:   chainID,
			EventID:   entry.EventID,
			EventType: entry.EventType,
			Writer:    entry.Writer,
			Timestamp: ts,
			Hash:      entry.Hash,
			Payload:   entry.Payload,
		})
	}
	return nil
}

// Record adds an entry to the timeline.
func (t *AuditTimeline) Record(entry TimelineEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := len(t.entries)
	t.entries = append(t.entries, entry)
	t.byChain[entry.ChainID] = append(t.byChain[entry.ChainID], idx)
}

// Query retrieves entries matching the query, ordered by event id within a
// chain and by timestamp across chains.
func (t *AuditTimeline) Query(q TimelineQuery) []TimelineEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var candidates []TimelineEntry
	if q.ChainID != "" {
		indices, ok := t.byChain[q.ChainID]
		if !ok {
			return nil
		}
		for _, i := range indices {
			candidates = append(candidates, t.entries[i])
		}
	} else {
		candidates = make([]TimelineEntry, len(t.entries))
		copy(candidates, t.entries)
	}

	var results []TimelineEntry
	for _, e := range candidates {
		if q.EventType != "" && e.EventType != q.EventType {
			continue
		}
		if q.After != nil && e.Timestamp.Before(*q.After) {
			continue
		}
		if q.Before != nil && e.Timestamp.After(*q.Before) {
			continue
		}
		results = append(results, e)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].ChainID == results[j].ChainID {
			return results[i].EventID < results[j].EventID
		}
		return results[i].Timestamp.Before(results[j].Timestamp)
	})

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results
}

// Count returns total entries.
func (t *AuditTimeline) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
