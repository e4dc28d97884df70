//go:build property
// +build property

// Property-based tests for policy evaluation invariants.
package policy

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genAction() gopter.Gen {
	risks := gen.OneConstOf(RiskLow, RiskMedium, RiskHigh, RiskCritical)
	classes := gen.OneConstOf(ClassPublic, ClassInternal, ClassConfidential, ClassRestricted)
	return gopter.CombineGens(
		gen.Identifier(), gen.AlphaString(), gen.AlphaString(), risks, classes, gen.Bool(),
	).Map(func(values []interface{}) *ActionContext {
		trace := ""
		if values[5].(bool) {
			trace = "trace-1"
		}
		return &ActionContext{
			ActionID:       values[0].(string),
			ActionType:     "inference",
			ActorID:        values[1].(string),
			RiskLevel:      values[3].(RiskLevel),
			Classification: values[4].(Classification),
			Jurisdiction:   "eu",
			TraceID:        trace,
			Content:        values[2].(string),
		}
	})
}

// TestEvaluationDeterminism verifies identical inputs always produce
// identical decisions.
func TestEvaluationDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	clock := func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }

	properties.Property("evaluation is deterministic", prop.ForAll(
		func(action *ActionContext) bool {
			ctx := context.Background()
			e1 := NewEngine(ModeEnforce).WithClock(clock)
			e2 := NewEngine(ModeEnforce).WithClock(clock)

			d1, err1 := e1.ValidateAgainstRules(ctx, action)
			d2, err2 := e2.ValidateAgainstRules(ctx, action)
			if (err1 == nil) != (err2 == nil) {
				return false
			}
			if err1 != nil {
				return true
			}
			return reflect.DeepEqual(d1, d2)
		},
		genAction(),
	))

	properties.TestingRun(t)
}

// TestStatusConsistency verifies the status always agrees with the
// violations and approval requirements that produced it.
func TestStatusConsistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("status matches evidence", prop.ForAll(
		func(action *ActionContext) bool {
			d, err := NewEngine(ModeEnforce).ValidateAgainstRules(context.Background(), action)
			if err != nil {
				return action.ActionID == ""
			}
			hasCritical := false
			hasHigh := false
			for _, v := range d.Violations {
				switch v.Severity {
				case SeverityCritical:
					hasCritical = true
				case SeverityHigh:
					hasHigh = true
				}
			}
			switch d.Status {
			case StatusBlocked:
				return hasCritical
			case StatusRequiresApproval:
				return hasHigh || len(d.RequiredApprovals) > 0
			case StatusApproved:
				return !hasCritical && !hasHigh && len(d.RequiredApprovals) == 0
			}
			return false
		},
		genAction(),
	))

	properties.TestingRun(t)
}
