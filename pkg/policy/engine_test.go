package policy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ioa-labs/ioa-core/pkg/approvals"
	"github.com/ioa-labs/ioa-core/pkg/budget"
	"github.com/ioa-labs/ioa-core/pkg/chain"
	"github.com/ioa-labs/ioa-core/pkg/observability"
	"github.com/ioa-labs/ioa-core/pkg/ratelimit"
	"github.com/ioa-labs/ioa-core/pkg/storage"
)

func testAction(id string) *ActionContext {
	return &ActionContext{
		ActionID:       id,
		ActionType:     "inference",
		ActorID:        "actor-1",
		RiskLevel:      RiskLow,
		Classification: ClassInternal,
		Jurisdiction:   "eu",
		TraceID:        "trace-1",
		Content:        "summarize the quarterly report",
	}
}

func testEngine(t *testing.T, mode Mode) (*Engine, storage.Blob) {
	t.Helper()
	store := storage.NewMemoryStore()
	w := chain.NewWriter(store, "policy-test")
	e := NewEngine(mode).
		WithAuditChain(w, "decisions").
		WithClearance(MapClearance{"cleared-actor": ClassRestricted})
	return e, store
}

func TestValidate_ApprovedHappyPath(t *testing.T) {
	ctx := context.Background()
	e, store := testEngine(t, ModeEnforce)

	d, err := e.ValidateAgainstRules(ctx, testAction("a1"))
	require.NoError(t, err)
	require.Equal(t, StatusApproved, d.Status)
	require.Empty(t, d.Violations)
	require.Empty(t, d.RequiredApprovals)
	require.Equal(t, []string{
		RuleTraceRequired, RuleNoPersonalData, RuleRateGuard,
		RuleJurisdiction, RuleClassification, RuleApproval, RuleEvidence,
	}, d.RulesChecked)

	// One policy_decision entry was written.
	paths, err := store.List(ctx, "chains/decisions/")
	require.NoError(t, err)
	require.Contains(t, paths, "chains/decisions/000001_policy_decision.json")
}

func TestValidate_BlockedOnCriticalClassification(t *testing.T) {
	// Scenario: restricted data export by an actor with no clearance.
	ctx := context.Background()
	e, store := testEngine(t, ModeEnforce)

	action := testAction("a1")
	action.ActionType = "data_export"
	action.RiskLevel = RiskCritical
	action.Classification = ClassRestricted

	d, err := e.ValidateAgainstRules(ctx, action)
	require.NoError(t, err)
	require.Equal(t, StatusBlocked, d.Status)
	require.Len(t, d.Violations, 1)
	require.Equal(t, RuleClassification, d.Violations[0].RuleID)
	require.Equal(t, SeverityCritical, d.Violations[0].Severity)

	// Evaluation stopped at rule 5; the approval rule was never reached.
	require.NotContains(t, d.RulesChecked, RuleApproval)

	paths, err := store.List(ctx, "chains/decisions/")
	require.NoError(t, err)
	require.Contains(t, paths, "chains/decisions/000001_policy_decision.json")
}

func TestValidate_HighRiskRequiresApproval(t *testing.T) {
	// Scenario: high-risk publish by a cleared actor without a grant.
	ctx := context.Background()
	e, _ := testEngine(t, ModeEnforce)

	action := testAction("a1")
	action.ActionType = "external_publish"
	action.ActorID = "cleared-actor"
	action.RiskLevel = RiskHigh
	action.Classification = ClassConfidential

	d, err := e.ValidateAgainstRules(ctx, action)
	require.NoError(t, err)
	require.Equal(t, StatusRequiresApproval, d.Status)
	require.Equal(t, []string{ApproverRoleCompliance}, d.RequiredApprovals)
	require.Empty(t, d.Violations)
}

func TestValidate_ApprovalTokenClearsRequirement(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t, ModeEnforce)

	tm, err := approvals.NewTokenManager([]byte("0123456789abcdef"))
	require.NoError(t, err)
	e.WithGrants(tm)

	action := testAction("a1")
	action.RiskLevel = RiskHigh

	token, err := tm.Issue(approvals.GrantApproval, "a1", "alice", ApproverRoleCompliance, time.Minute)
	require.NoError(t, err)
	action.ApprovalToken = token

	d, err := e.ValidateAgainstRules(ctx, action)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, d.Status)
	require.Empty(t, d.RequiredApprovals)

	// A token minted for a different action does not clear anything.
	other := testAction("a2")
	other.RiskLevel = RiskHigh
	other.ApprovalToken = token
	d, err = e.ValidateAgainstRules(ctx, other)
	require.NoError(t, err)
	require.Equal(t, StatusRequiresApproval, d.Status)
}

func TestValidate_ApprovalTokenConsumedOnUse(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t, ModeEnforce)

	tm, err := approvals.NewTokenManager([]byte("0123456789abcdef"))
	require.NoError(t, err)
	e.WithGrants(tm)

	action := testAction("a1")
	action.RiskLevel = RiskHigh
	token, err := tm.Issue(approvals.GrantApproval, "a1", "alice", ApproverRoleCompliance, time.Minute)
	require.NoError(t, err)
	action.ApprovalToken = token

	d, err := e.ValidateAgainstRules(ctx, action)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, d.Status)

	// The grant was redeemed; replaying it on a second evaluation of the
	// same action does not clear the requirement again.
	replay := testAction("a1")
	replay.RiskLevel = RiskHigh
	replay.ApprovalToken = token
	d, err = e.ValidateAgainstRules(ctx, replay)
	require.NoError(t, err)
	require.Equal(t, StatusRequiresApproval, d.Status)
	require.Equal(t, []string{ApproverRoleCompliance}, d.RequiredApprovals)
}

func TestValidate_SustainabilityOverBudget(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t, ModeEnforce)

	tracker := budget.NewMemoryTracker()
	tracker.SetLimit("proj", 1)
	e.WithBudget(tracker, "proj")

	action := testAction("a1")
	action.EstimatedTokens = 100000
	action.Region = "us-east"

	d, err := e.ValidateAgainstRules(ctx, action)
	require.NoError(t, err)
	require.Equal(t, StatusRequiresApproval, d.Status)
	require.Equal(t, []string{ApproverRoleSustainability}, d.RequiredApprovals)
	require.NotNil(t, d.Sustainability)
	require.Equal(t, budget.VerdictOver, d.Sustainability.Verdict)

	// A time-bounded override forces approval.
	tm, err := approvals.NewTokenManager([]byte("0123456789abcdef"))
	require.NoError(t, err)
	e.WithGrants(tm)
	token, err := tm.Issue(approvals.GrantOverride, "a1", "alice", ApproverRoleSustainability, time.Minute)
	require.NoError(t, err)
	action.ApprovalToken = token

	d, err = e.ValidateAgainstRules(ctx, action)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, d.Status)
}

func TestValidate_PersonalDataByMode(t *testing.T) {
	ctx := context.Background()

	action := testAction("a1")
	action.Content = "email me at user@example.com"

	// Enforce: high severity, requires approval.
	e, _ := testEngine(t, ModeEnforce)
	d, err := e.ValidateAgainstRules(ctx, action)
	require.NoError(t, err)
	require.Equal(t, StatusRequiresApproval, d.Status)
	require.Equal(t, SeverityHigh, d.Violations[0].Severity)

	// Monitor: warning only, status stays approved.
	e, _ = testEngine(t, ModeMonitor)
	d, err = e.ValidateAgainstRules(ctx, action)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, d.Status)
	require.Equal(t, SeverityLow, d.Violations[0].Severity)

	// Strict: escalated to critical, blocked.
	e, _ = testEngine(t, ModeStrict)
	d, err = e.ValidateAgainstRules(ctx, action)
	require.NoError(t, err)
	require.Equal(t, StatusBlocked, d.Status)
	require.Equal(t, SeverityCritical, d.Violations[0].Severity)
}

func TestValidate_MonitorNeverBlocks(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t, ModeMonitor)

	action := testAction("a1")
	action.Classification = ClassRestricted

	d, err := e.ValidateAgainstRules(ctx, action)
	require.NoError(t, err)
	require.Equal(t, StatusRequiresApproval, d.Status)
	require.Equal(t, SeverityCritical, d.Violations[0].Severity)
}

func TestValidate_MissingTrace(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t, ModeEnforce)

	action := testAction("a1")
	action.TraceID = ""

	d, err := e.ValidateAgainstRules(ctx, action)
	require.NoError(t, err)
	require.Equal(t, StatusRequiresApproval, d.Status)
	require.Equal(t, RuleTraceRequired, d.Violations[0].RuleID)
}

func TestValidate_RateGuard(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t, ModeEnforce)

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewLocalLimiter().WithClock(func() time.Time { return now })
	e.WithLimiter(limiter, ratelimit.Policy{RPM: 60, Burst: 1})

	d, err := e.ValidateAgainstRules(ctx, testAction("a1"))
	require.NoError(t, err)
	require.Equal(t, StatusApproved, d.Status)

	d, err = e.ValidateAgainstRules(ctx, testAction("a2"))
	require.NoError(t, err)
	require.Equal(t, StatusRequiresApproval, d.Status)
	require.Equal(t, RuleRateGuard, d.Violations[0].RuleID)
}

func TestValidate_JurisdictionRule(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t, ModeEnforce)

	rules, err := NewJurisdictionRules()
	require.NoError(t, err)
	require.NoError(t, rules.Load("data_export", `jurisdiction in ["eu", "us"]`))
	e.WithJurisdictions(rules)

	action := testAction("a1")
	action.ActionType = "data_export"
	action.Jurisdiction = "apac"

	d, err := e.ValidateAgainstRules(ctx, action)
	require.NoError(t, err)
	require.Equal(t, StatusRequiresApproval, d.Status)
	require.Equal(t, RuleJurisdiction, d.Violations[0].RuleID)

	action.Jurisdiction = "eu"
	action.ActionID = "a2"
	d, err = e.ValidateAgainstRules(ctx, action)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, d.Status)
}

func TestValidate_EventHandlers(t *testing.T) {
	ctx := context.Background()
	e, store := testEngine(t, ModeEnforce)

	var seen []Event
	e.RegisterEventHandler(func(ev Event) { panic("handler bug") })
	e.RegisterEventHandler(func(ev Event) { seen = append(seen, ev) })

	d, err := e.ValidateAgainstRules(ctx, testAction("a1"))
	require.NoError(t, err)
	require.Equal(t, StatusApproved, d.Status)

	// The panicking handler did not stop the second one.
	require.Len(t, seen, 1)
	require.Equal(t, "policy_decision", seen[0].EventType)
	require.Equal(t, "a1", seen[0].ActionID)

	// The failure is recorded in a sub-audit entry.
	paths, err := store.List(ctx, "chains/decisions/")
	require.NoError(t, err)
	require.Contains(t, paths, "chains/decisions/000002_policy_handler_failure.json")
}

// failingBlob rejects every write.
type failingBlob struct {
	storage.Blob
}

func (f *failingBlob) Put(ctx context.Context, path string, data []byte) error {
	return fmt.Errorf("disk full")
}

func TestValidate_EvidenceWriteFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	store := &failingBlob{Blob: storage.NewMemoryStore()}
	e := NewEngine(ModeEnforce).WithAuditChain(chain.NewWriter(store, "policy-test"), "decisions")

	_, err := e.ValidateAgainstRules(ctx, testAction("a1"))
	require.Error(t, err)
	require.ErrorIs(t, err, chain.ErrDurability)
}

func TestValidate_RejectsMissingActionID(t *testing.T) {
	e, _ := testEngine(t, ModeEnforce)
	_, err := e.ValidateAgainstRules(context.Background(), &ActionContext{})
	require.Error(t, err)
	_, err = e.ValidateAgainstRules(context.Background(), nil)
	require.Error(t, err)
}

func TestPreFlight_ScrubsInEnforce(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t, ModeEnforce)

	action := testAction("a1")
	action.Content = "contact user@example.com"

	modified, ev, err := e.PreFlightChecks(ctx, action)
	require.NoError(t, err)
	require.True(t, ev.Scrubbed)
	require.NotContains(t, modified.Content, "user@example.com")
	// The original context is untouched.
	require.Contains(t, action.Content, "user@example.com")

	// Monitor mode observes without modifying.
	e, _ = testEngine(t, ModeMonitor)
	modified, ev, err = e.PreFlightChecks(ctx, action)
	require.NoError(t, err)
	require.False(t, ev.Scrubbed)
	require.Equal(t, action.Content, modified.Content)
	require.NotEmpty(t, ev.Findings)
}

func TestPostFlight_FindingsAndFairness(t *testing.T) {
	ctx := context.Background()
	e, store := testEngine(t, ModeEnforce)

	monitor := NewFairnessMonitor(10, nil)
	e.WithFairness(monitor, 0.3)

	// Skew the window: one category gets all approvals.
	for i := 0; i < 4; i++ {
		monitor.Observe("group-a", true)
		monitor.Observe("group-b", false)
	}

	ev, err := e.PostFlightChecks(ctx, testAction("a1"), "result mentions user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, ev.Findings)
	require.NotNil(t, ev.FairnessScore)
	require.Greater(t, *ev.FairnessScore, 0.3)

	var ruleIDs []string
	for _, v := range ev.Violations {
		ruleIDs = append(ruleIDs, v.RuleID)
	}
	require.Contains(t, ruleIDs, RuleNoPersonalData)
	require.Contains(t, ruleIDs, RuleJurisdiction)

	paths, err := store.List(ctx, "chains/decisions/")
	require.NoError(t, err)
	require.Contains(t, paths, "chains/decisions/000001_post_flight_check.json")
}

func TestValidate_TracesDecision(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	obs, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	require.NoError(t, err)

	e, _ := testEngine(t, ModeEnforce)
	e.WithObservability(obs)

	d, err := e.ValidateAgainstRules(context.Background(), testAction("a1"))
	require.NoError(t, err)
	require.Equal(t, StatusApproved, d.Status)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, "policy.validate", span.Name())
	require.Contains(t, span.Attributes(), observability.AttrActionID.String("a1"))
	require.Contains(t, span.Attributes(), observability.AttrPolicyMode.String(string(ModeEnforce)))

	require.Len(t, span.Events(), 1)
	require.Equal(t, "decision", span.Events()[0].Name)
	require.Contains(t, span.Events()[0].Attributes, observability.AttrDecision.String(string(StatusApproved)))
}
