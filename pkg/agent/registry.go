package agent

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registration holds an agent's identity and standing in the registry.
type Registration struct {
	AgentID      string    `json:"agent_id"`
	DisplayName  string    `json:"display_name"`
	Capabilities []string  `json:"capabilities"`
	Weight       float64   `json:"weight"`
	Successes    float64   `json:"successes"`
	Failures     float64   `json:"failures"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registered_at"`
}

// TrustScore is the posterior mean success rate under a uniform prior.
func (r *Registration) TrustScore() float64 {
	return (r.Successes + 1) / (r.Successes + r.Failures + 2)
}

// EffectiveWeight scales the declared weight by the trust score, so a
// frequently failing agent counts for less in weighted voting.
func (r *Registration) EffectiveWeight() float64 {
	return r.Weight * r.TrustScore()
}

// HasCapability reports whether the agent declares the tag.
func (r *Registration) HasCapability(tag string) bool {
	for _, c := range r.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

type entry struct {
	reg   Registration
	agent Agent
	refs  int
}

// Registry tracks registered agents. Reads dominate; updates take the
// exclusive lock. Removal is soft: an agent referenced by an unresolved
// roundtable is deactivated, never deleted.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*entry
	clock  func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]*entry),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Register adds an agent under the given registration. Weight defaults to
// 1.0 when unset; duplicate ids are rejected.
func (r *Registry) Register(reg Registration, a Agent) error {
	if reg.AgentID == "" {
		return fmt.Errorf("agent id must not be empty")
	}
	if a == nil {
		return fmt.Errorf("agent %s has no capability", reg.AgentID)
	}
	if reg.Weight < 0 {
		return fmt.Errorf("agent %s weight must be nonnegative", reg.AgentID)
	}
	if reg.Weight == 0 {
		reg.Weight = 1.0
	}
	reg.Active = true
	reg.RegisteredAt = r.clock().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[reg.AgentID]; exists {
		return fmt.Errorf("agent %s is already registered", reg.AgentID)
	}
	r.agents[reg.AgentID] = &entry{reg: reg, agent: a}
	return nil
}

// Get returns the registration and capability for an active agent.
func (r *Registry) Get(agentID string) (*Registration, Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[agentID]
	if !ok {
		return nil, nil, fmt.Errorf("agent %s is not registered", agentID)
	}
	if !e.reg.Active {
		return nil, nil, fmt.Errorf("agent %s is inactive", agentID)
	}
	reg := e.reg
	return &reg, e.agent, nil
}

// List returns registrations sorted by agent id. Inactive agents are
// included only when includeInactive is set.
func (r *Registry) List(includeInactive bool) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.agents))
	for _, e := range r.agents {
		if e.reg.Active || includeInactive {
			out = append(out, e.reg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Acquire marks the agent as referenced by an in-flight roundtable.
func (r *Registry) Acquire(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s is not registered", agentID)
	}
	e.refs++
	return nil
}

// Release drops one in-flight reference.
func (r *Registry) Release(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[agentID]; ok && e.refs > 0 {
		e.refs--
	}
}

// Deactivate soft-removes an agent: it stops serving new roundtables but
// its registration survives for anything still referencing it.
func (r *Registry) Deactivate(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s is not registered", agentID)
	}
	e.reg.Active = false
	return nil
}

// Unregister removes an agent outright. It fails while any unresolved
// roundtable still references the agent; deactivate instead.
func (r *Registry) Unregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s is not registered", agentID)
	}
	if e.refs > 0 {
		return fmt.Errorf("agent %s is referenced by %d unresolved roundtable(s)", agentID, e.refs)
	}
	delete(r.agents, agentID)
	return nil
}

// RecordOutcome updates the agent's trust counters after a roundtable.
func (r *Registry) RecordOutcome(agentID string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return
	}
	if success {
		e.reg.Successes++
	} else {
		e.reg.Failures++
	}
}

// SetWeight updates an agent's voting weight.
func (r *Registry) SetWeight(agentID string, weight float64) error {
	if weight < 0 {
		return fmt.Errorf("weight must be nonnegative")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s is not registered", agentID)
	}
	e.reg.Weight = weight
	return nil
}
