// Package approvals handles human-in-the-loop resolution of actions the
// policy engine marks as requiring approval. The manager tracks approval
// requests through their lifecycle, enforces timeouts, and records which
// approver resolved each request.
package approvals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Request is one pending approval for a gated action.
type Request struct {
	RequestID    string    `json:"request_id"`
	ActionID     string    `json:"action_id"`
	AgentID      string    `json:"agent_id"`
	RequiredRole string    `json:"required_role"`
	Reason       string    `json:"reason"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	ResolvedBy   string    `json:"resolved_by,omitempty"`
	DenyReason   string    `json:"deny_reason,omitempty"`
}

// Registry maps approver identities to the roles they hold.
type Registry struct {
	mu    sync.RWMutex
	roles map[string][]string
}

// NewRegistry returns an empty approver registry.
func NewRegistry() *Registry {
	return &Registry{roles: make(map[string][]string)}
}

// Register records the roles held by an approver.
func (r *Registry) Register(approverID string, roles ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[approverID] = append([]string(nil), roles...)
}

// HasRole reports whether the approver holds the given role.
func (r *Registry) HasRole(approverID, role string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, held := range r.roles[approverID] {
		if held == role {
			return true
		}
	}
	return false
}

// LookupRole returns every approver holding the given role, for routing
// notifications.
func (r *Registry) LookupRole(role string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, held := range r.roles {
		for _, h := range held {
			if h == role {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// Manager tracks approval requests through their lifecycle.
type Manager struct {
	mu       sync.Mutex
	requests map[string]*Request
	registry *Registry
	clock    func() time.Time
	timeout  time.Duration
}

// NewManager creates a manager with the default five-minute timeout.
func NewManager(registry *Registry) *Manager {
	return &Manager{
		requests: make(map[string]*Request),
		registry: registry,
		clock:    time.Now,
		timeout:  5 * time.Minute,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// WithTimeout overrides the pending-request timeout.
func (m *Manager) WithTimeout(d time.Duration) *Manager {
	m.timeout = d
	return m
}

// Create opens a pending request for the given action. requiredRole names the
// role that must sign off, e.g. compliance_officer or sustainability_officer.
func (m *Manager) Create(ctx context.Context, actionID, agentID, requiredRole, reason string) (*Request, error) {
	_ = ctx
	if requiredRole == "" {
		return nil, fmt.Errorf("required role must not be empty")
	}
	now := m.clock()
	req := &Request{
		RequestID:    uuid.New().String(),
		ActionID:     actionID,
		AgentID:      agentID,
		RequiredRole: requiredRole,
		Reason:       reason,
		Status:       StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.timeout),
	}
	m.mu.Lock()
	m.requests[req.RequestID] = req
	m.mu.Unlock()
	return req, nil
}

// Approve resolves a pending request. The approver must hold the required
// role. An expired request flips to expired instead.
func (m *Manager) Approve(ctx context.Context, requestID, approverID string) (*Request, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("approval request %q not found", requestID)
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("approval request %q is not pending (status=%s)", requestID, req.Status)
	}
	now := m.clock()
	if now.After(req.ExpiresAt) {
		req.Status = StatusExpired
		return req, nil
	}
	if m.registry != nil && !m.registry.HasRole(approverID, req.RequiredRole) {
		return nil, fmt.Errorf("approver %q does not hold role %q", approverID, req.RequiredRole)
	}
	req.Status = StatusApproved
	req.ResolvedBy = approverID
	return req, nil
}

// Deny resolves a pending request negatively.
func (m *Manager) Deny(ctx context.Context, requestID, approverID, reason string) (*Request, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("approval request %q not found", requestID)
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("approval request %q is not pending (status=%s)", requestID, req.Status)
	}
	if m.registry != nil && !m.registry.HasRole(approverID, req.RequiredRole) {
		return nil, fmt.Errorf("approver %q does not hold role %q", approverID, req.RequiredRole)
	}
	req.Status = StatusDenied
	req.ResolvedBy = approverID
	req.DenyReason = reason
	return req, nil
}

// CheckTimeouts flips expired pending requests and returns them.
func (m *Manager) CheckTimeouts(ctx context.Context) []*Request {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	var expired []*Request
	for _, req := range m.requests {
		if req.Status == StatusPending && now.After(req.ExpiresAt) {
			req.Status = StatusExpired
			expired = append(expired, req)
		}
	}
	return expired
}

// Get returns a request by id.
func (m *Manager) Get(requestID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("approval request %q not found", requestID)
	}
	return req, nil
}

// PendingCount returns the number of pending requests.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.requests {
		if req.Status == StatusPending {
			n++
		}
	}
	return n
}
