package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ioa-labs/ioa-core/pkg/approvals"
	"github.com/ioa-labs/ioa-core/pkg/budget"
	"github.com/ioa-labs/ioa-core/pkg/chain"
	"github.com/ioa-labs/ioa-core/pkg/observability"
	"github.com/ioa-labs/ioa-core/pkg/privacy"
	"github.com/ioa-labs/ioa-core/pkg/ratelimit"
)

// ApproverRoleCompliance signs off high and critical risk actions.
const ApproverRoleCompliance = "compliance_officer"

// ApproverRoleSustainability signs off actions that exceed the remaining
// sustainability budget.
const ApproverRoleSustainability = "sustainability_officer"

// Engine evaluates action contexts against the seven governing rules.
// Rule evaluators are pure; I/O-bearing collaborators (limiter, budget
// tracker, grant validator, chain writer) are injected and their failures
// surface as evidence-rule violations.
type Engine struct {
	mode          Mode
	probe         *privacy.Probe
	limiter       ratelimit.Limiter
	ratePolicy    ratelimit.Policy
	clearance     ClearanceDirectory
	jurisdictions *JurisdictionRules
	tracker       budget.Tracker
	project       string
	grants        *approvals.TokenManager
	writer        *chain.Writer
	chainID       string
	fairness      *FairnessMonitor
	fairThreshold float64
	obs           *observability.Provider
	clock         func() time.Time
	logger        *slog.Logger

	mu       sync.RWMutex
	handlers []EventHandler
}

// NewEngine creates an engine in the given mode with the privacy probe
// installed. Collaborators are attached with the With methods.
func NewEngine(mode Mode) *Engine {
	return &Engine{
		mode:          mode,
		probe:         privacy.NewProbe(),
		fairThreshold: math.Inf(1),
		clock:         time.Now,
		logger:        slog.Default().With("component", "policy.engine"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithLimiter installs the per-actor rate limiter used by the rate guard.
func (e *Engine) WithLimiter(l ratelimit.Limiter, policy ratelimit.Policy) *Engine {
	e.limiter = l
	e.ratePolicy = policy
	return e
}

// WithClearance installs the actor clearance directory.
func (e *Engine) WithClearance(c ClearanceDirectory) *Engine {
	e.clearance = c
	return e
}

// WithJurisdictions installs the compiled jurisdiction rules.
func (e *Engine) WithJurisdictions(j *JurisdictionRules) *Engine {
	e.jurisdictions = j
	return e
}

// WithBudget installs the sustainability tracker for the given project.
func (e *Engine) WithBudget(t budget.Tracker, project string) *Engine {
	e.tracker = t
	e.project = project
	return e
}

// WithGrants installs the validator for approval and override tokens.
func (e *Engine) WithGrants(tm *approvals.TokenManager) *Engine {
	e.grants = tm
	return e
}

// WithAuditChain installs the chain writer that records each decision.
func (e *Engine) WithAuditChain(w *chain.Writer, chainID string) *Engine {
	e.writer = w
	e.chainID = chainID
	return e
}

// WithFairness installs the fairness monitor and its violation threshold.
func (e *Engine) WithFairness(m *FairnessMonitor, threshold float64) *Engine {
	e.fairness = m
	e.fairThreshold = threshold
	return e
}

// WithObservability installs the telemetry provider. Evaluations are traced
// as policy.validate spans carrying the decision as a span event.
func (e *Engine) WithObservability(obs *observability.Provider) *Engine {
	e.obs = obs
	return e
}

// RegisterEventHandler appends a handler invoked synchronously for every
// decision, in registration order.
func (e *Engine) RegisterEventHandler(h EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// effective applies the mode to a violation's base severity. Strict mode
// escalates every high violation to critical; monitor mode reports
// severities as found and caps the final status instead.
func (e *Engine) effective(s Severity) Severity {
	if e.mode == ModeStrict && s == SeverityHigh {
		return SeverityCritical
	}
	return s
}

// ValidateAgainstRules evaluates the action against the seven rules in
// priority order and returns the decision. A critical violation blocks and
// stops evaluation; high violations and approval conditions downgrade to
// requires_approval but evaluation continues. The decision is written to the
// audit chain before it is returned; a write failure is fatal.
func (e *Engine) ValidateAgainstRules(ctx context.Context, action *ActionContext) (*Decision, error) {
	if action == nil || action.ActionID == "" {
		return nil, fmt.Errorf("action context must carry an action id")
	}
	if e.obs == nil {
		return e.evaluate(ctx, action)
	}

	ctx, done := e.obs.TrackOperation(ctx, "policy.validate",
		observability.AttrActionID.String(action.ActionID),
		observability.AttrActionType.String(action.ActionType),
		observability.AttrPolicyMode.String(string(e.mode)),
	)
	d, err := e.evaluate(ctx, action)
	if d != nil {
		observability.AddSpanEvent(ctx, "decision",
			observability.PolicyOperation(action.ActionID, action.ActionType, string(d.Status))...)
	}
	done(err)
	return d, err
}

func (e *Engine) evaluate(ctx context.Context, action *ActionContext) (*Decision, error) {
	d := &Decision{
		DecisionID: action.ActionID,
		Status:     StatusApproved,
		Violations: []Violation{},
		Timestamp:  e.clock().UTC(),
	}

	blocked := e.runRules(ctx, action, d)
	if !blocked {
		e.checkApprovalRequirements(ctx, action, d)
	}
	e.resolveGrant(action, d)

	if len(d.RequiredApprovals) > 0 && d.Status != StatusBlocked {
		d.Status = StatusRequiresApproval
	}
	if e.mode == ModeMonitor && d.Status == StatusBlocked {
		d.Status = StatusRequiresApproval
	}

	if err := e.writeDecision(ctx, action, d); err != nil {
		return nil, err
	}
	e.emit(ctx, action, d)
	if e.fairness != nil {
		category, _ := action.Metadata["protected_category"].(string)
		e.fairness.Observe(category, d.Status == StatusApproved)
	}
	return d, nil
}

// runRules evaluates rules 1 through 5 and reports whether evaluation was
// stopped by a critical violation.
func (e *Engine) runRules(ctx context.Context, action *ActionContext, d *Decision) bool {
	type ruleCheck struct {
		id    string
		check func() *Violation
	}

	checks := []ruleCheck{
		{RuleTraceRequired, func() *Violation {
			if action.TraceID == "" {
				return &Violation{RuleID: RuleTraceRequired, Severity: SeverityHigh, Description: "action carries no audit trace context"}
			}
			return nil
		}},
		{RuleNoPersonalData, func() *Violation {
			findings := e.probe.Scan(action.Content)
			if len(findings) == 0 {
				return nil
			}
			severity := SeverityHigh
			if e.mode == ModeMonitor {
				severity = SeverityLow
			}
			return &Violation{
				RuleID:      RuleNoPersonalData,
				Severity:    severity,
				Description: fmt.Sprintf("content contains %d personal-data token(s), first kind %s", len(findings), findings[0].Kind),
			}
		}},
		{RuleRateGuard, func() *Violation {
			if e.limiter == nil {
				return nil
			}
			key := action.ActorID + "/" + action.ActionType
			allowed, err := e.limiter.Allow(ctx, key, e.ratePolicy, 1)
			if err != nil {
				return &Violation{RuleID: RuleEvidence, Severity: SeverityHigh, Description: fmt.Sprintf("rate limiter unavailable: %v", err)}
			}
			if !allowed {
				return &Violation{RuleID: RuleRateGuard, Severity: SeverityHigh, Description: fmt.Sprintf("rate limit exceeded for %s", key)}
			}
			return nil
		}},
		{RuleJurisdiction, func() *Violation {
			if e.jurisdictions == nil {
				return nil
			}
			ok, err := e.jurisdictions.Permitted(action)
			if err != nil {
				return &Violation{RuleID: RuleEvidence, Severity: SeverityHigh, Description: fmt.Sprintf("jurisdiction rule failed: %v", err)}
			}
			if !ok {
				return &Violation{
					RuleID:      RuleJurisdiction,
					Severity:    SeverityHigh,
					Description: fmt.Sprintf("jurisdiction %q is not permitted for action type %q", action.Jurisdiction, action.ActionType),
				}
			}
			return nil
		}},
		{RuleClassification, func() *Violation {
			if action.Classification != ClassConfidential && action.Classification != ClassRestricted {
				return nil
			}
			held := ClassPublic
			if e.clearance != nil {
				held = e.clearance.Clearance(action.ActorID)
			}
			if !held.Covers(action.Classification) {
				return &Violation{
					RuleID:      RuleClassification,
					Severity:    SeverityCritical,
					Description: fmt.Sprintf("actor %s clearance %s is insufficient for %s data", action.ActorID, held, action.Classification),
				}
			}
			return nil
		}},
	}

	for _, rc := range checks {
		d.RulesChecked = append(d.RulesChecked, rc.id)
		v := rc.check()
		if v == nil {
			continue
		}
		v.Severity = e.effective(v.Severity)
		d.Violations = append(d.Violations, *v)
		switch v.Severity {
		case SeverityCritical:
			d.Status = StatusBlocked
			return true
		case SeverityHigh:
			if d.Status == StatusApproved {
				d.Status = StatusRequiresApproval
			}
		}
	}
	return false
}

// checkApprovalRequirements applies rule 6 and the sustainability check.
func (e *Engine) checkApprovalRequirements(ctx context.Context, action *ActionContext, d *Decision) {
	d.RulesChecked = append(d.RulesChecked, RuleApproval)

	if action.RiskLevel == RiskHigh || action.RiskLevel == RiskCritical {
		d.RequiredApprovals = append(d.RequiredApprovals, ApproverRoleCompliance)
	}

	if e.tracker != nil {
		estimated := budget.Estimate(action.ActionType, action.EstimatedTokens, action.Region)
		res, err := e.tracker.Check(ctx, e.project, action.ActionID, estimated)
		if err != nil {
			d.Violations = append(d.Violations, Violation{
				RuleID:      RuleEvidence,
				Severity:    e.effective(SeverityHigh),
				Description: fmt.Sprintf("budget tracker unavailable: %v", err),
			})
			return
		}
		d.Sustainability = &SustainabilityImpact{
			EstimatedCost: estimated,
			Remaining:     res.Remaining,
			Verdict:       res.Verdict,
		}
		if res.Verdict == budget.VerdictOver {
			d.RequiredApprovals = append(d.RequiredApprovals, ApproverRoleSustainability)
		}
	}
}

// resolveGrant clears approval requirements covered by a valid, time-bounded
// grant token attached to the action. Grants are consumed on use.
func (e *Engine) resolveGrant(action *ActionContext, d *Decision) {
	if e.grants == nil || action.ApprovalToken == "" || len(d.RequiredApprovals) == 0 {
		return
	}
	claims, err := e.grants.Redeem(action.ApprovalToken, action.ActionID)
	if err != nil {
		e.logger.Warn("approval token rejected", "action", action.ActionID, "error", err)
		return
	}
	remaining := d.RequiredApprovals[:0]
	for _, role := range d.RequiredApprovals {
		if role != claims.Role {
			remaining = append(remaining, role)
		}
	}
	d.RequiredApprovals = remaining
	if len(d.RequiredApprovals) == 0 {
		d.RequiredApprovals = nil
	}
}

// writeDecision appends the policy_decision audit entry. Rule 7: inability
// to write evidence is fatal.
func (e *Engine) writeDecision(ctx context.Context, action *ActionContext, d *Decision) error {
	d.RulesChecked = append(d.RulesChecked, RuleEvidence)
	if e.writer == nil {
		return nil
	}

	payload, err := toPayload(map[string]interface{}{
		"action_id":   action.ActionID,
		"action_type": action.ActionType,
		"actor_id":    action.ActorID,
		"decision":    d,
	})
	if err != nil {
		return fmt.Errorf("%w: decision serialization failed: %v", chain.ErrDurability, err)
	}
	if _, err := e.writer.Append(ctx, e.chainID, "policy_decision", payload); err != nil {
		return fmt.Errorf("policy evidence write failed: %w", err)
	}
	return nil
}

// emit dispatches the decision event to handlers, each isolated from
// panics. A panicking handler is recorded in a sub-audit entry.
func (e *Engine) emit(ctx context.Context, action *ActionContext, d *Decision) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	event := Event{
		EventType:     "policy_decision",
		Timestamp:     d.Timestamp,
		ActionID:      d.DecisionID,
		Status:        d.Status,
		RuleIDs:       d.RulesChecked,
		Violations:    d.Violations,
		FairnessScore: d.FairnessScore,
	}
	for i, h := range handlers {
		e.dispatch(ctx, i, h, event)
	}
}

func (e *Engine) dispatch(ctx context.Context, index int, h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "policy event handler panicked", "handler", index, "action", event.ActionID, "panic", r)
			if e.writer != nil {
				payload := map[string]interface{}{
					"rule_id":   RuleEvidence,
					"action_id": event.ActionID,
					"handler":   index,
					"panic":     fmt.Sprintf("%v", r),
				}
				if _, err := e.writer.Append(ctx, e.chainID, "policy_handler_failure", payload); err != nil {
					e.logger.ErrorContext(ctx, "failed to record handler failure", "error", err)
				}
			}
		}
	}()
	h(event)
}

// toPayload converts a value into the generic map form audit entries carry.
func toPayload(v map[string]interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
