package budget

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryTracker keeps budgets in process memory, for tests and
// single-instance deployments.
type MemoryTracker struct {
	mu       sync.Mutex
	projects map[string]*Usage
	clock    func() time.Time
}

// NewMemoryTracker returns an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		projects: make(map[string]*Usage),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (t *MemoryTracker) WithClock(clock func() time.Time) *MemoryTracker {
	t.clock = clock
	return t
}

// SetLimit sets a project's budget limit in cost units.
func (t *MemoryTracker) SetLimit(project string, limit float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.projects[project]
	if !ok {
		u = &Usage{Project: project}
		t.projects[project] = u
	}
	u.Limit = limit
	u.LastUpdated = t.clock().UTC()
}

// Check classifies an estimated spend against the project's remaining budget.
// A project without a configured limit is over budget by definition.
func (t *MemoryTracker) Check(ctx context.Context, project, run string, estimated float64) (*CheckResult, error) {
	_ = ctx
	_ = run
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.projects[project]
	if !ok {
		return &CheckResult{Verdict: VerdictOver, Remaining: 0}, nil
	}
	return classify(u, estimated), nil
}

// Record adds actual spend to the project's usage.
func (t *MemoryTracker) Record(ctx context.Context, project, run string, actual float64) error {
	_ = ctx
	_ = run
	if actual < 0 {
		return fmt.Errorf("actual spend must not be negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.projects[project]
	if !ok {
		u = &Usage{Project: project}
		t.projects[project] = u
	}
	u.Used += actual
	u.LastUpdated = t.clock().UTC()
	return nil
}

// GetUsage returns a snapshot of the project's budget state.
func (t *MemoryTracker) GetUsage(project string) (*Usage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.projects[project]
	if !ok {
		return nil, false
	}
	snapshot := *u
	return &snapshot, true
}
