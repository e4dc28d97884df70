// Package budget provides the sustainability budget tracker consulted by the
// policy engine before approving an action. Checks fail closed: when the
// tracker is unreachable or uncertain, the engine treats the action as over
// budget.
package budget

import (
	"context"
	"strings"
	"time"
)

// Verdict is the outcome of a budget check.
type Verdict string

const (
	// VerdictAllowed means the estimate fits comfortably in the remaining budget.
	VerdictAllowed Verdict = "allowed"
	// VerdictWarn means the estimate fits but pushes usage past the warning
	// threshold.
	VerdictWarn Verdict = "warn"
	// VerdictOver means the estimate exceeds the remaining budget.
	VerdictOver Verdict = "over"
)

// CheckResult reports a budget check outcome and the remaining budget in
// cost units.
type CheckResult struct {
	Verdict   Verdict `json:"verdict"`
	Remaining float64 `json:"remaining"`
}

// Tracker answers whether a project may spend an estimated cost and records
// actual spend after the fact.
type Tracker interface {
	Check(ctx context.Context, project, run string, estimated float64) (*CheckResult, error)
	Record(ctx context.Context, project, run string, actual float64) error
}

// regionFactor scales cost by the carbon intensity of the serving region.
var regionFactor = map[string]float64{
	"eu-north": 0.6,
	"eu-west":  0.8,
	"us-west":  0.9,
	"us-east":  1.0,
	"ap-south": 1.3,
	"ap-east":  1.2,
	"af-south": 1.1,
	"sa-east":  0.7,
}

// actionFactor scales cost by the weight of the action type.
var actionFactor = map[string]float64{
	"inference":   1.0,
	"embedding":   0.3,
	"fine_tune":   5.0,
	"tool_call":   0.5,
	"data_export": 2.0,
}

// Estimate derives a cost-unit estimate from the action type, the expected
// token volume, and the serving region. One cost unit corresponds to one
// thousand tokens of plain inference in a us-east-class region.
func Estimate(actionType string, estimatedTokens int64, region string) float64 {
	if estimatedTokens < 0 {
		estimatedTokens = 0
	}
	af, ok := actionFactor[strings.ToLower(actionType)]
	if !ok {
		af = 1.0
	}
	rf, ok := regionFactor[strings.ToLower(region)]
	if !ok {
		rf = 1.0
	}
	return float64(estimatedTokens) / 1000.0 * af * rf
}

// Usage is one project's budget state.
type Usage struct {
	Project     string    `json:"project"`
	Limit       float64   `json:"limit"`
	Used        float64   `json:"used"`
	LastUpdated time.Time `json:"last_updated"`
}

// Remaining returns the unspent budget, never negative.
func (u *Usage) Remaining() float64 {
	r := u.Limit - u.Used
	if r < 0 {
		return 0
	}
	return r
}

// warnFraction is the share of the budget past which checks return warn.
const warnFraction = 0.8

func classify(u *Usage, estimated float64) *CheckResult {
	remaining := u.Remaining()
	if estimated > remaining {
		return &CheckResult{Verdict: VerdictOver, Remaining: remaining}
	}
	if u.Used+estimated > u.Limit*warnFraction {
		return &CheckResult{Verdict: VerdictWarn, Remaining: remaining}
	}
	return &CheckResult{Verdict: VerdictAllowed, Remaining: remaining}
}
