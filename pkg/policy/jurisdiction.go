package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// JurisdictionRules decides whether a declared jurisdiction is permitted for
// an action type. Rules are CEL expressions over the action's attributes,
// compiled once at load time so evaluation stays pure and fast.
type JurisdictionRules struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
	sources  map[string]string
}

// NewJurisdictionRules initializes the CEL environment.
func NewJurisdictionRules() (*JurisdictionRules, error) {
	env, err := cel.NewEnv(
		cel.Variable("action_type", cel.StringType),
		cel.Variable("jurisdiction", cel.StringType),
		cel.Variable("classification", cel.StringType),
		cel.Variable("actor", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &JurisdictionRules{
		env:      env,
		programs: make(map[string]cel.Program),
		sources:  make(map[string]string),
	}, nil
}

// Load compiles and registers the rule for an action type. The expression
// must evaluate to a boolean; true means the jurisdiction is permitted.
func (j *JurisdictionRules) Load(actionType, source string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	ast, issues := j.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("jurisdiction rule compilation failed: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("jurisdiction rule for %s must evaluate to a boolean, got %s", actionType, ast.OutputType())
	}
	prg, err := j.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return fmt.Errorf("jurisdiction rule construction failed: %w", err)
	}
	j.programs[actionType] = prg
	j.sources[actionType] = source
	return nil
}

// Sources returns a copy of the loaded rule sources by action type.
func (j *JurisdictionRules) Sources() map[string]string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]string, len(j.sources))
	for k, v := range j.sources {
		out[k] = v
	}
	return out
}

// Permitted evaluates the rule registered for the action's type. An action
// type without a rule is permitted everywhere.
func (j *JurisdictionRules) Permitted(action *ActionContext) (bool, error) {
	j.mu.RLock()
	prg, ok := j.programs[action.ActionType]
	j.mu.RUnlock()
	if !ok {
		return true, nil
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"action_type":    action.ActionType,
		"jurisdiction":   action.Jurisdiction,
		"classification": string(action.Classification),
		"actor":          action.ActorID,
	})
	if err != nil {
		return false, fmt.Errorf("jurisdiction rule evaluation failed: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("jurisdiction rule for %s did not evaluate to a boolean", action.ActionType)
	}
	return allowed, nil
}
