//go:build property
// +build property

// Property-based tests for the voting rules.
package roundtable

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genVotes() gopter.Gen {
	option := gen.OneConstOf("yes", "no", "maybe")
	vote := gopter.CombineGens(
		option,
		gen.Float64Range(0, 1),
		gen.Float64Range(0.1, 5),
		gen.Int64Range(0, 1_000_000),
	).Map(func(vals []interface{}) Vote {
		return Vote{
			AgentID:    "prop-agent",
			Option:     vals[0].(string),
			Confidence: vals[1].(float64),
			Weight:     vals[2].(float64),
			ProducedAt: time.Unix(0, vals[3].(int64)),
			State:      VoteReady,
		}
	})
	return gen.SliceOf(vote)
}

// TestMajorityMonotonicity verifies that adding one more vote for the current
// winner never changes the winner and never lowers its count share.
func TestMajorityMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("extra winning vote keeps the winner", prop.ForAll(
		func(votes []Vote) bool {
			if len(votes) == 0 {
				return true
			}
			before := tallyMajority(votes, 0.5, TieHighestConfidence)
			if before.winner == "" {
				return true
			}
			extra := Vote{
				AgentID:    "extra",
				Option:     before.winner,
				Confidence: 1.0,
				Weight:     1.0,
				ProducedAt: time.Unix(0, 0),
				State:      VoteReady,
			}
			after := tallyMajority(append(append([]Vote{}, votes...), extra), 0.5, TieHighestConfidence)
			if after.winner != before.winner {
				return false
			}
			return after.score >= before.score-1e-9 || after.score > 0.5
		},
		genVotes(),
	))

	properties.TestingRun(t)
}

// TestScoreBounds verifies every rule reports a score in [0, 1] and that an
// achieved consensus implies a nonempty winner.
func TestScoreBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("scores stay within bounds", prop.ForAll(
		func(votes []Vote, quorum float64) bool {
			for _, mode := range []Mode{ModeMajority, ModeWeighted} {
				got := decide(mode, votes, quorum, TieHighestConfidence)
				if got.score < 0 || got.score > 1+1e-9 {
					return false
				}
				if got.achieved && got.winner == "" {
					return false
				}
			}
			return true
		},
		genVotes(),
		gen.Float64Range(0.01, 1),
	))

	properties.TestingRun(t)
}
