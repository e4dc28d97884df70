// Package roundtable implements the concurrent executor that drives a set
// of registered agents against one task, collects their votes under a
// deadline, and decides an outcome under the selected voting rule.
package roundtable

import (
	"errors"
	"time"
)

// Mode selects the voting algorithm.
type Mode string

const (
	ModeMajority Mode = "majority"
	ModeWeighted Mode = "weighted"
	ModeBorda    Mode = "borda"
)

// TieBreaker names the rule applied when options tie at the top.
type TieBreaker string

const (
	TieNone              TieBreaker = "none"
	TieHighestConfidence TieBreaker = "highest_confidence"
	TieHighestWeight     TieBreaker = "highest_weight"
	TieEarliest          TieBreaker = "earliest"
	// TieLex is never requested directly; it is the terminal fallback and is
	// recorded when every named rule failed to separate the tie.
	TieLex TieBreaker = "lex"
)

// VoteState classifies a vote's outcome.
type VoteState string

const (
	VoteReady    VoteState = "ready"
	VoteTimedOut VoteState = "timed_out"
	VoteErrored  VoteState = "errored"
)

// ErrPolicyRejected is returned when the policy engine does not approve the
// roundtable's dispatch.
var ErrPolicyRejected = errors.New("roundtable rejected by policy")

// Task is a unit of work submitted to the executor. Immutable once accepted.
type Task struct {
	TaskID      string    `json:"task_id"`
	Prompt      string    `json:"prompt"`
	Capability  string    `json:"capability,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Vote is one agent's contribution to a roundtable.
type Vote struct {
	AgentID    string        `json:"agent_id"`
	Option     string        `json:"option,omitempty"`
	Ranking    []string      `json:"ranking,omitempty"`
	Confidence float64       `json:"confidence"`
	Weight     float64       `json:"weight"`
	ProducedAt time.Time     `json:"produced_at"`
	Latency    time.Duration `json:"latency"`
	State      VoteState     `json:"state"`
	ErrorKind  string        `json:"error_kind,omitempty"`
}

// Result is the outcome of one roundtable.
type Result struct {
	TaskID            string                   `json:"task_id"`
	Mode              Mode                     `json:"mode"`
	Votes             []Vote                   `json:"votes"`
	WinningOption     string                   `json:"winning_option,omitempty"`
	ConsensusAchieved bool                     `json:"consensus_achieved"`
	ConsensusScore    float64                  `json:"consensus_score"`
	TieBreakerApplied TieBreaker               `json:"tie_breaker_applied,omitempty"`
	QuorumRatio       float64                  `json:"quorum_ratio"`
	WallTime          time.Duration            `json:"wall_time"`
	AgentTimings      map[string]time.Duration `json:"agent_timings"`
	Explanation       string                   `json:"explanation,omitempty"`
}

// ReadyVotes returns the votes that contribute to consensus.
func (r *Result) ReadyVotes() []Vote {
	var ready []Vote
	for _, v := range r.Votes {
		if v.State == VoteReady {
			ready = append(ready, v)
		}
	}
	return ready
}

// Options tunes one roundtable execution.
type Options struct {
	Mode        Mode
	Timeout     time.Duration
	QuorumRatio float64
	TieBreaker  TieBreaker
}

// Stats aggregates executor activity since construction.
type Stats struct {
	Roundtables      int           `json:"roundtables"`
	ConsensusReached int           `json:"consensus_reached"`
	VotesCollected   int           `json:"votes_collected"`
	AgentErrors      int           `json:"agent_errors"`
	AgentTimeouts    int           `json:"agent_timeouts"`
	AverageWallTime  time.Duration `json:"average_wall_time"`
	ByMode           map[Mode]int  `json:"by_mode"`
}

// runState is the roundtable lifecycle. Transitions run strictly forward.
type runState string

const (
	stateSubmitted  runState = "submitted"
	stateDispatched runState = "dispatched"
	stateCollecting runState = "collecting"
	stateFinalized  runState = "finalized"
)

var stateOrder = map[runState]int{
	stateSubmitted:  0,
	stateDispatched: 1,
	stateCollecting: 2,
	stateFinalized:  3,
}

type lifecycle struct {
	state runState
}

func newLifecycle() *lifecycle {
	return &lifecycle{state: stateSubmitted}
}

// advance moves to the next state; regressions are programmer errors.
func (l *lifecycle) advance(next runState) {
	if stateOrder[next] < stateOrder[l.state] {
		panic("roundtable state regression: " + string(l.state) + " -> " + string(next))
	}
	l.state = next
}
