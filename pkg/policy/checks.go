package policy

import (
	"context"
	"fmt"

	"github.com/ioa-labs/ioa-core/pkg/privacy"
)

// Evidence collects what a pre- or post-flight check observed.
type Evidence struct {
	Findings      []privacy.Finding `json:"findings,omitempty"`
	Scrubbed      bool              `json:"scrubbed,omitempty"`
	FairnessScore *float64          `json:"fairness_score,omitempty"`
	Violations    []Violation       `json:"violations,omitempty"`
}

// PreFlightChecks probes the declared intent before dispatch. In enforce and
// strict modes detected personal data is scrubbed from the returned copy of
// the context; monitor mode leaves the content untouched.
func (e *Engine) PreFlightChecks(ctx context.Context, action *ActionContext) (*ActionContext, *Evidence, error) {
	if action == nil {
		return nil, nil, fmt.Errorf("action context must not be nil")
	}
	_ = ctx

	ev := &Evidence{Findings: e.probe.Scan(action.Content)}
	modified := *action
	if len(ev.Findings) > 0 && e.mode != ModeMonitor {
		modified.Content = e.probe.Scrub(action.Content)
		ev.Scrubbed = true
	}
	return &modified, ev, nil
}

// PostFlightChecks probes the realized outcome. It scans the produced text
// for personal data and, when a fairness monitor is installed, reports the
// current fairness score; divergence past the threshold is a violation
// adjacent to the jurisdiction rule. Findings are appended to the audit
// chain when a writer is configured.
func (e *Engine) PostFlightChecks(ctx context.Context, action *ActionContext, producedText string) (*Evidence, error) {
	if action == nil {
		return nil, fmt.Errorf("action context must not be nil")
	}

	ev := &Evidence{Findings: e.probe.Scan(producedText)}
	if len(ev.Findings) > 0 {
		severity := SeverityHigh
		if e.mode == ModeMonitor {
			severity = SeverityLow
		}
		ev.Violations = append(ev.Violations, Violation{
			RuleID:      RuleNoPersonalData,
			Severity:    e.effective(severity),
			Description: fmt.Sprintf("produced text contains %d personal-data token(s)", len(ev.Findings)),
		})
	}

	if e.fairness != nil {
		ev.FairnessScore = e.fairness.Score()
		if ev.FairnessScore != nil && *ev.FairnessScore > e.fairThreshold {
			ev.Violations = append(ev.Violations, Violation{
				RuleID:      RuleJurisdiction,
				Severity:    e.effective(SeverityHigh),
				Description: fmt.Sprintf("fairness divergence %.3f exceeds threshold %.3f", *ev.FairnessScore, e.fairThreshold),
			})
		}
	}

	if e.writer != nil && len(ev.Violations) > 0 {
		payload, err := toPayload(map[string]interface{}{
			"action_id": action.ActionID,
			"evidence":  ev,
		})
		if err != nil {
			return nil, fmt.Errorf("post-flight evidence serialization failed: %w", err)
		}
		if _, err := e.writer.Append(ctx, e.chainID, "post_flight_check", payload); err != nil {
			return nil, fmt.Errorf("post-flight evidence write failed: %w", err)
		}
	}
	return ev, nil
}
