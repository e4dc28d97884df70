package roundtable

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ioa-labs/ioa-core/pkg/agent"
	"github.com/ioa-labs/ioa-core/pkg/chain"
	"github.com/ioa-labs/ioa-core/pkg/memory"
	"github.com/ioa-labs/ioa-core/pkg/observability"
	"github.com/ioa-labs/ioa-core/pkg/policy"
	"github.com/ioa-labs/ioa-core/pkg/storage"
)

func fixedAgent(text string, confidence float64) agent.Agent {
	return agent.Func(func(ctx context.Context, prompt string) (*agent.Response, error) {
		return &agent.Response{Text: text, Confidence: confidence}, nil
	})
}

func blockingAgent() agent.Agent {
	return agent.Func(func(ctx context.Context, prompt string) (*agent.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func failingAgent(err error) agent.Agent {
	return agent.Func(func(ctx context.Context, prompt string) (*agent.Response, error) {
		return nil, err
	})
}

func register(t *testing.T, r *agent.Registry, id string, weight float64, a agent.Agent) {
	t.Helper()
	require.NoError(t, r.Register(agent.Registration{
		AgentID:      id,
		Capabilities: []string{"general"},
		Weight:       weight,
	}, a))
}

func testTask(id string) Task {
	return Task{TaskID: id, Prompt: "should we ship the release", SubmittedAt: time.Now()}
}

func TestExecuteRoundtable_MajorityTieResolvedByConfidence(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "a1", 1.0, fixedAgent("yes", 0.6))
	register(t, r, "a2", 1.0, fixedAgent("Yes", 0.7))
	register(t, r, "a3", 1.0, fixedAgent("no", 0.9))
	register(t, r, "a4", 1.0, fixedAgent("NO", 1.0))

	store := storage.NewMemoryStore()
	exec := NewExecutor(r, chain.NewWriter(store, "writer-1"), "rt")

	result, err := exec.ExecuteRoundtable(context.Background(), testTask("task-a"),
		[]string{"a1", "a2", "a3", "a4"}, Options{
			Mode:        ModeMajority,
			Timeout:     time.Second,
			QuorumRatio: 0.5,
			TieBreaker:  TieHighestConfidence,
		})
	require.NoError(t, err)

	require.Equal(t, "no", result.WinningOption)
	require.True(t, result.ConsensusAchieved)
	require.InDelta(t, 0.5, result.ConsensusScore, 1e-9)
	require.Equal(t, TieHighestConfidence, result.TieBreakerApplied)
	require.Len(t, result.Votes, 4)
	for _, v := range result.Votes {
		require.Equal(t, VoteReady, v.State)
	}

	_, err = store.Get(context.Background(), "chains/rt/000001_roundtable_start.json")
	require.NoError(t, err)
	_, err = store.Get(context.Background(), "chains/rt/000002_roundtable_complete.json")
	require.NoError(t, err)
}

func TestExecuteRoundtable_WeightedQuorum(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "senior", 2.0, fixedAgent("y", 1.0))
	register(t, r, "junior", 1.0, fixedAgent("n", 1.0))

	exec := NewExecutor(r, nil, "")
	result, err := exec.ExecuteRoundtable(context.Background(), testTask("task-b"),
		[]string{"senior", "junior"}, Options{
			Mode:        ModeWeighted,
			Timeout:     time.Second,
			QuorumRatio: 0.6,
			TieBreaker:  TieHighestConfidence,
		})
	require.NoError(t, err)

	require.Equal(t, "y", result.WinningOption)
	require.True(t, result.ConsensusAchieved)
	require.InDelta(t, 2.0/3.0, result.ConsensusScore, 1e-9)
	require.Empty(t, result.TieBreakerApplied)
}

func TestExecuteRoundtable_DeadlineCountsReadyVotesOnly(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "fast-1", 1.0, fixedAgent("go", 0.8))
	register(t, r, "fast-2", 1.0, fixedAgent("go", 0.9))
	register(t, r, "slow-1", 1.0, blockingAgent())
	register(t, r, "slow-2", 1.0, blockingAgent())
	register(t, r, "slow-3", 1.0, blockingAgent())

	exec := NewExecutor(r, nil, "")
	result, err := exec.ExecuteRoundtable(context.Background(), testTask("task-c"),
		[]string{"fast-1", "fast-2", "slow-1", "slow-2", "slow-3"}, Options{
			Mode:        ModeMajority,
			Timeout:     100 * time.Millisecond,
			QuorumRatio: 0.5,
			TieBreaker:  TieHighestConfidence,
		})
	require.NoError(t, err)

	require.Len(t, result.Votes, 5)
	require.Len(t, result.ReadyVotes(), 2)
	require.Equal(t, "go", result.WinningOption)
	require.True(t, result.ConsensusAchieved)
	require.InDelta(t, 1.0, result.ConsensusScore, 1e-9)

	timedOut := 0
	for _, v := range result.Votes {
		if v.State == VoteTimedOut {
			timedOut++
			require.Equal(t, "deadline_exceeded", v.ErrorKind)
		}
	}
	require.Equal(t, 3, timedOut)
}

func TestExecuteRoundtable_BordaRanking(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "b1", 1.0, fixedAgent("alpha > beta > gamma", 0.8))
	register(t, r, "b2", 1.0, fixedAgent("beta > alpha > gamma", 0.8))
	register(t, r, "b3", 1.0, fixedAgent("alpha > gamma > beta", 0.8))

	exec := NewExecutor(r, nil, "")
	result, err := exec.ExecuteRoundtable(context.Background(), testTask("task-d"),
		[]string{"b1", "b2", "b3"}, Options{
			Mode:        ModeBorda,
			Timeout:     time.Second,
			QuorumRatio: 0.5,
			TieBreaker:  TieHighestConfidence,
		})
	require.NoError(t, err)

	// alpha 2+1+2=5, beta 1+2+0=3, gamma 0+0+1=1 of 9 points total.
	require.Equal(t, "alpha", result.WinningOption)
	require.True(t, result.ConsensusAchieved)
	require.InDelta(t, 5.0/9.0, result.ConsensusScore, 1e-9)
}

func TestExecuteRoundtable_BordaRejectsFlatAnswer(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "ranked", 1.0, fixedAgent("alpha > beta", 0.8))
	register(t, r, "flat", 1.0, fixedAgent("alpha", 0.8))

	exec := NewExecutor(r, nil, "")
	result, err := exec.ExecuteRoundtable(context.Background(), testTask("task-e"),
		[]string{"ranked", "flat"}, Options{
			Mode:        ModeBorda,
			Timeout:     time.Second,
			QuorumRatio: 0.5,
			TieBreaker:  TieHighestConfidence,
		})
	require.NoError(t, err)

	require.Len(t, result.ReadyVotes(), 1)
	for _, v := range result.Votes {
		if v.AgentID == "flat" {
			require.Equal(t, VoteErrored, v.State)
			require.Equal(t, "invalid_ranking", v.ErrorKind)
		}
	}
	require.Equal(t, "alpha", result.WinningOption)
}

func TestExecuteRoundtable_AllAgentsErrored(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "e1", 1.0, failingAgent(errors.New("model unavailable")))
	register(t, r, "e2", 1.0, failingAgent(errors.New("model unavailable")))

	exec := NewExecutor(r, nil, "")
	result, err := exec.ExecuteRoundtable(context.Background(), testTask("task-f"),
		[]string{"e1", "e2"}, Options{
			Mode:        ModeMajority,
			Timeout:     time.Second,
			QuorumRatio: 0.5,
			TieBreaker:  TieHighestConfidence,
		})
	require.NoError(t, err)

	require.False(t, result.ConsensusAchieved)
	require.Empty(t, result.WinningOption)
	require.Contains(t, result.Explanation, "no ready votes")
	for _, v := range result.Votes {
		require.Equal(t, VoteErrored, v.State)
		require.Equal(t, "agent_error", v.ErrorKind)
	}
}

func TestExecuteRoundtable_InputValidation(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "a1", 1.0, fixedAgent("yes", 0.8))
	exec := NewExecutor(r, nil, "")

	base := Options{Mode: ModeMajority, Timeout: time.Second, QuorumRatio: 0.5, TieBreaker: TieHighestConfidence}

	tests := []struct {
		name   string
		task   Task
		agents []string
		mutate func(*Options)
	}{
		{"empty prompt", Task{TaskID: "t", Prompt: ""}, []string{"a1"}, nil},
		{"no agents", testTask("t"), nil, nil},
		{"unknown agent", testTask("t"), []string{"ghost"}, nil},
		{"zero timeout", testTask("t"), []string{"a1"}, func(o *Options) { o.Timeout = 0 }},
		{"quorum above one", testTask("t"), []string{"a1"}, func(o *Options) { o.QuorumRatio = 1.5 }},
		{"quorum zero", testTask("t"), []string{"a1"}, func(o *Options) { o.QuorumRatio = 0 }},
		{"bad mode", testTask("t"), []string{"a1"}, func(o *Options) { o.Mode = "plurality" }},
		{"bad tie breaker", testTask("t"), []string{"a1"}, func(o *Options) { o.TieBreaker = "coin_flip" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			if tt.mutate != nil {
				tt.mutate(&opts)
			}
			_, err := exec.ExecuteRoundtable(context.Background(), tt.task, tt.agents, opts)
			require.Error(t, err)
		})
	}
}

func TestExecuteRoundtable_CapabilityRequired(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "generalist", 1.0, fixedAgent("yes", 0.8))

	exec := NewExecutor(r, nil, "")
	task := testTask("task-g")
	task.Capability = "legal_review"

	_, err := exec.ExecuteRoundtable(context.Background(), task, []string{"generalist"}, Options{
		Mode: ModeMajority, Timeout: time.Second, QuorumRatio: 0.5, TieBreaker: TieHighestConfidence,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "lacks capability")
}

func TestExecuteRoundtable_PolicyRejection(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "a1", 1.0, fixedAgent("yes", 0.8))

	exec := NewExecutor(r, nil, "").WithPolicyEngine(policy.NewEngine(policy.ModeEnforce))
	task := testTask("task-h")
	task.Prompt = "summarize the complaint from jane.doe@example.com"

	_, err := exec.ExecuteRoundtable(context.Background(), task, []string{"a1"}, Options{
		Mode: ModeMajority, Timeout: time.Second, QuorumRatio: 0.5, TieBreaker: TieHighestConfidence,
	})
	require.ErrorIs(t, err, ErrPolicyRejected)
}

func TestExecuteRoundtable_PolicyApprovedProceeds(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "a1", 1.0, fixedAgent("yes", 0.8))

	exec := NewExecutor(r, nil, "").WithPolicyEngine(policy.NewEngine(policy.ModeEnforce))
	result, err := exec.ExecuteRoundtable(context.Background(), testTask("task-i"), []string{"a1"}, Options{
		Mode: ModeMajority, Timeout: time.Second, QuorumRatio: 0.5, TieBreaker: TieHighestConfidence,
	})
	require.NoError(t, err)
	require.Equal(t, "yes", result.WinningOption)
}

type failingBlob struct {
	storage.Blob
}

func (f *failingBlob) Put(ctx context.Context, path string, data []byte) error {
	return fmt.Errorf("disk full")
}

func TestExecuteRoundtable_AuditWriteFailureIsFatal(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "a1", 1.0, fixedAgent("yes", 0.8))

	store := &failingBlob{Blob: storage.NewMemoryStore()}
	exec := NewExecutor(r, chain.NewWriter(store, "writer-1"), "rt")

	_, err := exec.ExecuteRoundtable(context.Background(), testTask("task-j"), []string{"a1"}, Options{
		Mode: ModeMajority, Timeout: time.Second, QuorumRatio: 0.5, TieBreaker: TieHighestConfidence,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, chain.ErrDurability)
}

func TestExecuteRoundtable_RecordsTrustAndStats(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "good", 1.0, fixedAgent("yes", 0.8))
	register(t, r, "bad", 1.0, failingAgent(errors.New("boom")))

	exec := NewExecutor(r, nil, "")
	_, err := exec.ExecuteRoundtable(context.Background(), testTask("task-k"), []string{"good", "bad"}, Options{
		Mode: ModeMajority, Timeout: time.Second, QuorumRatio: 0.5, TieBreaker: TieHighestConfidence,
	})
	require.NoError(t, err)

	goodReg, _, err := r.Get("good")
	require.NoError(t, err)
	require.Equal(t, 1.0, goodReg.Successes)
	badReg, _, err := r.Get("bad")
	require.NoError(t, err)
	require.Equal(t, 1.0, badReg.Failures)

	stats := exec.GetExecutionStats()
	require.Equal(t, 1, stats.Roundtables)
	require.Equal(t, 1, stats.ConsensusReached)
	require.Equal(t, 1, stats.VotesCollected)
	require.Equal(t, 1, stats.AgentErrors)
	require.Equal(t, 1, stats.ByMode[ModeMajority])
}

func TestExecuteRoundtable_SavesMemoryRecord(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "a1", 1.0, fixedAgent("yes", 0.8))

	sink := memory.NewJSONLSink(filepath.Join(t.TempDir(), "records.jsonl"))
	defer sink.Close()

	exec := NewExecutor(r, nil, "").WithMemorySink(sink, "demo")
	_, err := exec.ExecuteRoundtable(context.Background(), testTask("task-l"), []string{"a1"}, Options{
		Mode: ModeMajority, Timeout: time.Second, QuorumRatio: 0.5, TieBreaker: TieHighestConfidence,
	})
	require.NoError(t, err)

	records, err := sink.Recent(context.Background(), "demo", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "task-l", records[0].RunID)
	require.Equal(t, "completed", records[0].Status)
	require.Equal(t, "yes", records[0].WinningOption)
}

func TestExecuteRoundtable_DeduplicatesAgentIDs(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "a1", 1.0, fixedAgent("yes", 0.8))

	exec := NewExecutor(r, nil, "")
	result, err := exec.ExecuteRoundtable(context.Background(), testTask("task-m"),
		[]string{"a1", "a1", "a1"}, Options{
			Mode: ModeMajority, Timeout: time.Second, QuorumRatio: 0.5, TieBreaker: TieHighestConfidence,
		})
	require.NoError(t, err)
	require.Len(t, result.Votes, 1)
}

func TestExecuteRoundtable_ReleasesAgentRefs(t *testing.T) {
	r := agent.NewRegistry()
	register(t, r, "a1", 1.0, fixedAgent("yes", 0.8))

	exec := NewExecutor(r, nil, "")
	_, err := exec.ExecuteRoundtable(context.Background(), testTask("task-n"), []string{"a1"}, Options{
		Mode: ModeMajority, Timeout: time.Second, QuorumRatio: 0.5, TieBreaker: TieHighestConfidence,
	})
	require.NoError(t, err)

	// A held ref would make Unregister fail.
	require.NoError(t, r.Unregister("a1"))
}

func TestExportSchemas(t *testing.T) {
	target := t.TempDir()
	locations, err := ExportSchemas(target)
	require.NoError(t, err)
	require.Len(t, locations, 3)

	for name, path := range locations {
		require.Equal(t, filepath.Join(target, name), path)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NotEmpty(t, data)
	}
}

func TestExecuteRoundtable_TracesExecution(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	obs, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	require.NoError(t, err)

	r := agent.NewRegistry()
	register(t, r, "a1", 1.0, fixedAgent("yes", 0.9))
	register(t, r, "a2", 1.0, fixedAgent("yes", 0.8))

	store := storage.NewMemoryStore()
	exec := NewExecutor(r, chain.NewWriter(store, "w"), "rt").WithObservability(obs)

	result, err := exec.ExecuteRoundtable(context.Background(), testTask("rt-1"), []string{"a1", "a2"}, Options{
		Mode:        ModeMajority,
		Timeout:     time.Second,
		QuorumRatio: 0.5,
	})
	require.NoError(t, err)
	require.True(t, result.ConsensusAchieved)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, "roundtable.execute", span.Name())
	require.Contains(t, span.Attributes(), observability.AttrTaskID.String("rt-1"))
	require.Contains(t, span.Attributes(), observability.AttrVotingMode.String("majority"))
	require.Contains(t, span.Attributes(), observability.AttrAgentCount.Int(2))

	var events []string
	for _, ev := range span.Events() {
		events = append(events, ev.Name)
	}
	require.Contains(t, events, "finalized")
	require.Contains(t, events, "chain_append")
}
