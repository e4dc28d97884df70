package chain

// Manifest is the per-chain summary, rewritten atomically after each append.
type Manifest struct {
	ChainID     string   `json:"chain_id"`
	RootHash    string   `json:"root_hash"`
	TipHash     string   `json:"tip_hash"`
	Length      int      `json:"length"`
	CreatedAt   string   `json:"created_at"`
	LastEventID int64    `json:"last_event_id"`
	AnchorRefs  []string `json:"anchor_refs"`
}

// NewManifest returns an empty manifest for a chain created at createdAt.
func NewManifest(chainID, createdAt string) *Manifest {
	return &Manifest{
		ChainID:    chainID,
		CreatedAt:  createdAt,
		AnchorRefs: []string{},
	}
}

// Advance updates the manifest for a freshly appended entry.
func (m *Manifest) Advance(e *Entry) {
	if m.Length == 0 {
		m.RootHash = e.Hash
	}
	m.TipHash = e.Hash
	m.Length++
	m.LastEventID = e.EventID
}
