// Package policy implements the seven-rule policy engine that gates every
// side-effectful action. The engine evaluates an immutable action context,
// produces a decision of approved, requires_approval, or blocked, and writes
// one audit entry per decision.
package policy

import (
	"time"

	"github.com/ioa-labs/ioa-core/pkg/budget"
)

// Status is the outcome of a policy decision.
type Status string

const (
	StatusApproved         Status = "approved"
	StatusRequiresApproval Status = "requires_approval"
	StatusBlocked          Status = "blocked"
)

// Mode selects how strictly violations affect the decision status.
type Mode string

const (
	// ModeMonitor reports violations but never blocks; the worst status it
	// produces is requires_approval.
	ModeMonitor Mode = "monitor"
	// ModeEnforce applies the standard decision policy.
	ModeEnforce Mode = "enforce"
	// ModeStrict escalates every high-severity violation to critical.
	ModeStrict Mode = "strict"
)

// Severity grades a violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RiskLevel is the declared risk of an action.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Classification is the sensitivity of the data an action touches, and also
// the clearance level an actor holds.
type Classification string

const (
	ClassPublic       Classification = "public"
	ClassInternal     Classification = "internal"
	ClassConfidential Classification = "confidential"
	ClassRestricted   Classification = "restricted"
)

var classRank = map[Classification]int{
	ClassPublic:       0,
	ClassInternal:     1,
	ClassConfidential: 2,
	ClassRestricted:   3,
}

// Covers reports whether clearance c is sufficient for data classified as d.
func (c Classification) Covers(d Classification) bool {
	return classRank[c] >= classRank[d]
}

// Rule ids, in priority order. Lower ordinal wins on conflict.
const (
	RuleTraceRequired  = "trace_required"
	RuleNoPersonalData = "no_personal_data"
	RuleRateGuard      = "rate_guard"
	RuleJurisdiction   = "jurisdiction"
	RuleClassification = "classification"
	RuleApproval       = "approval"
	RuleEvidence       = "evidence"
)

// ActionContext is an immutable intent to perform a side-effectful step.
type ActionContext struct {
	ActionID        string                 `json:"action_id"`
	ActionType      string                 `json:"action_type"`
	ActorID         string                 `json:"actor_id"`
	RiskLevel       RiskLevel              `json:"risk_level"`
	Classification  Classification         `json:"data_classification"`
	Jurisdiction    string                 `json:"jurisdiction"`
	PayloadHash     string                 `json:"payload_hash,omitempty"`
	TraceID         string                 `json:"trace_id,omitempty"`
	Content         string                 `json:"content,omitempty"`
	EstimatedTokens int64                  `json:"estimated_tokens,omitempty"`
	Region          string                 `json:"region,omitempty"`
	ApprovalToken   string                 `json:"approval_token,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Violation is one rule breach found during evaluation.
type Violation struct {
	RuleID      string   `json:"rule_id"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// SustainabilityImpact reports the budget check attached to a decision.
type SustainabilityImpact struct {
	EstimatedCost float64        `json:"estimated_cost"`
	Remaining     float64        `json:"remaining"`
	Verdict       budget.Verdict `json:"verdict"`
}

// Decision is the engine's output for one action.
type Decision struct {
	DecisionID        string                `json:"decision_id"`
	Status            Status                `json:"status"`
	RulesChecked      []string              `json:"rules_checked"`
	Violations        []Violation           `json:"violations"`
	RequiredApprovals []string              `json:"required_approvals,omitempty"`
	FairnessScore     *float64              `json:"fairness_score,omitempty"`
	Sustainability    *SustainabilityImpact `json:"sustainability,omitempty"`
	Timestamp         time.Time             `json:"timestamp"`
}

// Event is emitted once per decision to registered handlers.
type Event struct {
	EventType     string      `json:"event_type"`
	Timestamp     time.Time   `json:"timestamp"`
	ActionID      string      `json:"action_id"`
	Status        Status      `json:"status"`
	RuleIDs       []string    `json:"rule_ids"`
	Violations    []Violation `json:"violations"`
	FairnessScore *float64    `json:"fairness_score,omitempty"`
}

// EventHandler receives decision events. Handlers run synchronously in
// registration order, each isolated from panics.
type EventHandler func(Event)

// ClearanceDirectory resolves an actor's clearance level.
type ClearanceDirectory interface {
	Clearance(actorID string) Classification
}

// MapClearance is a fixed actor-to-clearance table.
type MapClearance map[string]Classification

// Clearance returns the actor's level, defaulting to public.
func (m MapClearance) Clearance(actorID string) Classification {
	if c, ok := m[actorID]; ok {
		return c
	}
	return ClassPublic
}
