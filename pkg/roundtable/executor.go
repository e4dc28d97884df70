package roundtable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ioa-labs/ioa-core/pkg/agent"
	"github.com/ioa-labs/ioa-core/pkg/chain"
	"github.com/ioa-labs/ioa-core/pkg/memory"
	"github.com/ioa-labs/ioa-core/pkg/observability"
	"github.com/ioa-labs/ioa-core/pkg/policy"
)

// Executor drives roundtables. It resolves agents from the registry, asks
// the policy engine for a decision before dispatch, runs the agents under a
// shared deadline, and records start and completion on the audit chain.
type Executor struct {
	registry   *agent.Registry
	engine     *policy.Engine
	writer     *chain.Writer
	chainID    string
	sink       memory.Sink
	project    string
	obs        *observability.Provider
	maxWorkers int
	clock      func() time.Time
	logger     *slog.Logger

	mu    sync.Mutex
	stats Stats
	walls time.Duration
}

// NewExecutor creates an executor over the given registry and audit chain.
func NewExecutor(registry *agent.Registry, writer *chain.Writer, chainID string) *Executor {
	return &Executor{
		registry: registry,
		writer:   writer,
		chainID:  chainID,
		clock:    time.Now,
		logger:   slog.Default().With("component", "roundtable.executor"),
		stats:    Stats{ByMode: make(map[Mode]int)},
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// WithPolicyEngine installs the engine consulted before dispatch.
func (e *Executor) WithPolicyEngine(engine *policy.Engine) *Executor {
	e.engine = engine
	return e
}

// WithMemorySink installs the record sink finalized results are saved to.
func (e *Executor) WithMemorySink(sink memory.Sink, project string) *Executor {
	e.sink = sink
	e.project = project
	return e
}

// WithObservability installs the telemetry provider. Executions are traced
// as roundtable.execute spans with chain appends attached as span events.
func (e *Executor) WithObservability(obs *observability.Provider) *Executor {
	e.obs = obs
	return e
}

// WithMaxWorkers caps the worker pool. Zero means uncapped.
func (e *Executor) WithMaxWorkers(n int) *Executor {
	e.maxWorkers = n
	return e
}

// ExecuteRoundtable runs the task against the named agents and returns the
// voted result. Malformed inputs and audit write failures are errors;
// agent failures and deadline expiry are not.
func (e *Executor) ExecuteRoundtable(ctx context.Context, task Task, agentIDs []string, opts Options) (*Result, error) {
	if e.obs == nil {
		return e.execute(ctx, task, agentIDs, opts)
	}

	ctx, done := e.obs.TrackOperation(ctx, "roundtable.execute",
		observability.RoundtableOperation(task.TaskID, string(opts.Mode), len(agentIDs))...)
	result, err := e.execute(ctx, task, agentIDs, opts)
	if result != nil {
		observability.AddSpanEvent(ctx, "finalized",
			observability.RoundtableOutcome(result.TaskID, result.ConsensusAchieved, result.ConsensusScore)...)
	}
	done(err)
	return result, err
}

func (e *Executor) execute(ctx context.Context, task Task, agentIDs []string, opts Options) (*Result, error) {
	participants, err := e.resolveParticipants(task, agentIDs, opts)
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		if err := e.registry.Acquire(p.reg.AgentID); err != nil {
			return nil, err
		}
	}
	defer func() {
		for _, p := range participants {
			e.registry.Release(p.reg.AgentID)
		}
	}()

	life := newLifecycle()
	started := e.clock()

	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.reg.AgentID
	}
	if err := e.audit(ctx, "roundtable_start", map[string]interface{}{
		"task_id":      task.TaskID,
		"agents":       ids,
		"mode":         string(opts.Mode),
		"quorum_ratio": opts.QuorumRatio,
		"timeout_ms":   opts.Timeout.Milliseconds(),
	}); err != nil {
		return nil, err
	}

	if err := e.checkPolicy(ctx, task, opts); err != nil {
		return nil, err
	}

	life.advance(stateDispatched)
	votes := e.collectVotes(ctx, life, task, participants, opts)

	result := e.finalize(life, task, votes, opts, e.clock().Sub(started))

	if err := e.audit(ctx, "roundtable_complete", map[string]interface{}{
		"task_id":            result.TaskID,
		"winning_option":     result.WinningOption,
		"consensus_achieved": result.ConsensusAchieved,
		"consensus_score":    result.ConsensusScore,
		"votes":              len(result.Votes),
		"wall_time_ms":       result.WallTime.Milliseconds(),
	}); err != nil {
		return nil, err
	}

	e.recordOutcomes(result)
	e.accumulate(result)
	e.persist(ctx, task, result)
	return result, nil
}

type participant struct {
	reg   agent.Registration
	agent agent.Agent
}

func (e *Executor) resolveParticipants(task Task, agentIDs []string, opts Options) ([]participant, error) {
	if task.Prompt == "" {
		return nil, fmt.Errorf("task prompt must not be empty")
	}
	if len(agentIDs) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	if opts.QuorumRatio <= 0 || opts.QuorumRatio > 1 {
		return nil, fmt.Errorf("quorum ratio must be in (0,1]")
	}
	switch opts.Mode {
	case ModeMajority, ModeWeighted, ModeBorda:
	default:
		return nil, fmt.Errorf("unknown voting mode %q", opts.Mode)
	}
	switch opts.TieBreaker {
	case TieNone, TieHighestConfidence, TieHighestWeight, TieEarliest, "":
	default:
		return nil, fmt.Errorf("unknown tie breaker %q", opts.TieBreaker)
	}

	seen := make(map[string]bool, len(agentIDs))
	var participants []participant
	for _, id := range agentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		reg, a, err := e.registry.Get(id)
		if err != nil {
			return nil, err
		}
		if task.Capability != "" && !reg.HasCapability(task.Capability) {
			return nil, fmt.Errorf("agent %s lacks capability %q", id, task.Capability)
		}
		participants = append(participants, participant{reg: *reg, agent: a})
	}
	return participants, nil
}

// checkPolicy asks the engine for a decision before any agent is
// dispatched. Only an approved decision lets the roundtable proceed.
func (e *Executor) checkPolicy(ctx context.Context, task Task, opts Options) error {
	if e.engine == nil {
		return nil
	}
	decision, err := e.engine.ValidateAgainstRules(ctx, &policy.ActionContext{
		ActionID:       task.TaskID,
		ActionType:     "inference",
		ActorID:        "roundtable-executor",
		RiskLevel:      policy.RiskLow,
		Classification: policy.ClassInternal,
		TraceID:        task.TaskID,
		Content:        task.Prompt,
	})
	if err != nil {
		return err
	}
	if decision.Status != policy.StatusApproved {
		return fmt.Errorf("%w: decision %s for task %s", ErrPolicyRejected, decision.Status, task.TaskID)
	}
	return nil
}

// collectVotes runs the agents in a bounded pool under the shared deadline
// and returns one vote per participant. Agents whose votes did not arrive
// in time are reported as timed_out.
func (e *Executor) collectVotes(ctx context.Context, life *lifecycle, task Task, participants []participant, opts Options) []Vote {
	dctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	pool := len(participants)
	if pool < 4 {
		pool = 4
	}
	if e.maxWorkers > 0 && pool > e.maxWorkers {
		pool = e.maxWorkers
	}
	sem := make(chan struct{}, pool)
	votesCh := make(chan Vote, len(participants))

	for _, p := range participants {
		go func(p participant) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-dctx.Done():
				return
			}
			votesCh <- e.invoke(dctx, task, p, opts.Mode)
		}(p)
	}

	life.advance(stateCollecting)
	collected := make(map[string]Vote, len(participants))
	for len(collected) < len(participants) {
		select {
		case v := <-votesCh:
			collected[v.AgentID] = v
		case <-dctx.Done():
			// Deadline elapsed. Remaining agents are cancelled through the
			// derived context; votes arriving after this point are discarded.
			goto done
		}
	}
done:

	votes := make([]Vote, 0, len(participants))
	for _, p := range participants {
		if v, ok := collected[p.reg.AgentID]; ok {
			votes = append(votes, v)
			continue
		}
		votes = append(votes, Vote{
			AgentID:    p.reg.AgentID,
			Weight:     p.reg.EffectiveWeight(),
			ProducedAt: e.clock().UTC(),
			State:      VoteTimedOut,
			ErrorKind:  "deadline_exceeded",
		})
	}
	return votes
}

// invoke runs one agent and converts its response into a vote.
func (e *Executor) invoke(ctx context.Context, task Task, p participant, mode Mode) Vote {
	started := e.clock()
	resp, err := p.agent.Invoke(ctx, task.Prompt)
	now := e.clock()

	vote := Vote{
		AgentID:    p.reg.AgentID,
		Weight:     p.reg.EffectiveWeight(),
		ProducedAt: now.UTC(),
		Latency:    now.Sub(started),
	}
	if err != nil {
		vote.State = VoteErrored
		vote.ErrorKind = "agent_error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			vote.State = VoteTimedOut
			vote.ErrorKind = "deadline_exceeded"
		}
		return vote
	}

	vote.Confidence = clamp01(resp.Confidence)
	if mode == ModeBorda {
		ranking := ParseRanking(resp.Text)
		if len(ranking) < 2 || !distinct(ranking) {
			vote.State = VoteErrored
			vote.ErrorKind = "invalid_ranking"
			return vote
		}
		vote.Ranking = ranking
		vote.Option = ranking[0]
	} else {
		vote.Option = NormalizeOption(resp.Text)
	}
	vote.State = VoteReady
	return vote
}

// finalize applies the voting rule and seals the result.
func (e *Executor) finalize(life *lifecycle, task Task, votes []Vote, opts Options, wall time.Duration) *Result {
	result := &Result{
		TaskID:       task.TaskID,
		Mode:         opts.Mode,
		Votes:        votes,
		QuorumRatio:  opts.QuorumRatio,
		WallTime:     wall,
		AgentTimings: make(map[string]time.Duration, len(votes)),
	}
	for _, v := range votes {
		result.AgentTimings[v.AgentID] = v.Latency
	}

	ready := result.ReadyVotes()
	if len(ready) == 0 {
		result.Explanation = "no ready votes: all agents errored or timed out"
	} else {
		t := decide(opts.Mode, ready, opts.QuorumRatio, opts.TieBreaker)
		result.WinningOption = t.winner
		result.ConsensusAchieved = t.achieved
		result.ConsensusScore = t.score
		result.TieBreakerApplied = t.tieBreaker
		if t.winner == "" {
			result.Explanation = "tie unresolved under tie_breaker none"
		}
	}

	life.advance(stateFinalized)
	return result
}

// recordOutcomes feeds trust counters: a ready vote is a success, anything
// else a failure.
func (e *Executor) recordOutcomes(result *Result) {
	for _, v := range result.Votes {
		e.registry.RecordOutcome(v.AgentID, v.State == VoteReady)
	}
}

func (e *Executor) accumulate(result *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Roundtables++
	e.stats.ByMode[result.Mode]++
	if result.ConsensusAchieved {
		e.stats.ConsensusReached++
	}
	for _, v := range result.Votes {
		switch v.State {
		case VoteReady:
			e.stats.VotesCollected++
		case VoteErrored:
			e.stats.AgentErrors++
		case VoteTimedOut:
			e.stats.AgentTimeouts++
		}
	}
	e.walls += result.WallTime
	e.stats.AverageWallTime = e.walls / time.Duration(e.stats.Roundtables)
}

// GetExecutionStats returns a snapshot of accumulated statistics.
func (e *Executor) GetExecutionStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := e.stats
	snapshot.ByMode = make(map[Mode]int, len(e.stats.ByMode))
	for k, v := range e.stats.ByMode {
		snapshot.ByMode[k] = v
	}
	return snapshot
}

// persist saves the finalized result to the memory sink, best effort.
func (e *Executor) persist(ctx context.Context, task Task, result *Result) {
	if e.sink == nil {
		return
	}
	status := "completed"
	if !result.ConsensusAchieved {
		status = "no_consensus"
	}
	record := &memory.Record{
		RunID:         task.TaskID,
		Project:       e.project,
		Task:          task.Prompt,
		Status:        status,
		WinningOption: result.WinningOption,
		Method:        string(result.Mode),
		Participants:  len(result.Votes),
		CreatedAt:     e.clock().UTC(),
		Detail: map[string]interface{}{
			"consensus_score": result.ConsensusScore,
			"quorum_ratio":    result.QuorumRatio,
			"wall_time_ms":    result.WallTime.Milliseconds(),
		},
	}
	if err := e.sink.Save(ctx, record); err != nil {
		e.logger.WarnContext(ctx, "record save failed", "task", task.TaskID, "error", err)
	}
}

// audit appends one entry to the roundtable chain. Failures are fatal for
// the roundtable; the caller receives a durability error and no result.
func (e *Executor) audit(ctx context.Context, eventType string, payload map[string]interface{}) error {
	if e.writer == nil {
		return nil
	}
	entry, err := e.writer.Append(ctx, e.chainID, eventType, payload)
	if err != nil {
		return fmt.Errorf("roundtable audit write failed: %w", err)
	}
	if e.obs != nil {
		observability.AddSpanEvent(ctx, "chain_append",
			observability.ChainOperation(e.chainID, eventType, entry.EventID)...)
	}
	return nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
