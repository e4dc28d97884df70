package policy

import (
	"math"
	"sort"
	"sync"
)

// FairnessMonitor tracks recent decisions across a protected category tag
// and reports the divergence of the observed approval distribution from a
// reference distribution as a score on [0,1].
type FairnessMonitor struct {
	mu        sync.Mutex
	window    []observation
	capacity  int
	reference map[string]float64
}

type observation struct {
	category string
	approved bool
}

// NewFairnessMonitor creates a monitor over a sliding window of the given
// size. reference maps category to its expected share of approvals; nil
// means a uniform reference over the observed categories.
func NewFairnessMonitor(windowSize int, reference map[string]float64) *FairnessMonitor {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &FairnessMonitor{
		capacity:  windowSize,
		reference: reference,
	}
}

// Observe records one decision for a category. Empty categories carry no
// demographic signal and are ignored.
func (m *FairnessMonitor) Observe(category string, approved bool) {
	if category == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = append(m.window, observation{category: category, approved: approved})
	if len(m.window) > m.capacity {
		m.window = m.window[len(m.window)-m.capacity:]
	}
}

// Score returns the total variation distance between the observed approval
// distribution across categories and the reference distribution. It returns
// nil when fewer than two categories have been observed, since a single
// category carries no comparative signal.
func (m *FairnessMonitor) Score() *float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	approvals := make(map[string]float64)
	total := 0.0
	categories := make(map[string]bool)
	for _, o := range m.window {
		categories[o.category] = true
		if o.approved {
			approvals[o.category]++
			total++
		}
	}
	if len(categories) < 2 || total == 0 {
		return nil
	}

	names := make([]string, 0, len(categories))
	for c := range categories {
		names = append(names, c)
	}
	sort.Strings(names)

	reference := m.reference
	if reference == nil {
		reference = make(map[string]float64, len(names))
		for _, c := range names {
			reference[c] = 1.0 / float64(len(names))
		}
	}

	divergence := 0.0
	for _, c := range names {
		observed := approvals[c] / total
		divergence += math.Abs(observed - reference[c])
	}
	score := divergence / 2.0
	if score > 1 {
		score = 1
	}
	return &score
}
