// Domain-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for roundtable, policy and chain spans.
var (
	// Roundtable attributes
	AttrTaskID         = attribute.Key("ioa.roundtable.task_id")
	AttrVotingMode     = attribute.Key("ioa.roundtable.mode")
	AttrConsensus      = attribute.Key("ioa.roundtable.consensus")
	AttrConsensusScore = attribute.Key("ioa.roundtable.score")
	AttrAgentCount     = attribute.Key("ioa.roundtable.agents")

	// Agent attributes
	AttrAgentID    = attribute.Key("ioa.agent.id")
	AttrAgentState = attribute.Key("ioa.agent.vote_state")

	// Policy attributes
	AttrActionID     = attribute.Key("ioa.policy.action_id")
	AttrActionType   = attribute.Key("ioa.policy.action_type")
	AttrDecision     = attribute.Key("ioa.policy.decision")
	AttrPolicyMode   = attribute.Key("ioa.policy.mode")
	AttrRuleID       = attribute.Key("ioa.policy.rule_id")
	AttrJurisdiction = attribute.Key("ioa.policy.jurisdiction")

	// Chain attributes
	AttrChainID   = attribute.Key("ioa.chain.id")
	AttrEventType = attribute.Key("ioa.chain.event_type")
	AttrEventID   = attribute.Key("ioa.chain.event_id")
)

// RoundtableOperation creates attributes for a roundtable execution span.
func RoundtableOperation(taskID, mode string, agents int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTaskID.String(taskID),
		AttrVotingMode.String(mode),
		AttrAgentCount.Int(agents),
	}
}

// RoundtableOutcome creates attributes for a finalized result.
func RoundtableOutcome(taskID string, achieved bool, score float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTaskID.String(taskID),
		AttrConsensus.Bool(achieved),
		AttrConsensusScore.Float64(score),
	}
}

// PolicyOperation creates attributes for a policy evaluation span.
func PolicyOperation(actionID, actionType, decision string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrActionID.String(actionID),
		AttrActionType.String(actionType),
		AttrDecision.String(decision),
	}
}

// ChainOperation creates attributes for a chain append or verify span.
func ChainOperation(chainID, eventType string, eventID int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrChainID.String(chainID),
		AttrEventType.String(eventType),
		AttrEventID.Int64(eventID),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
