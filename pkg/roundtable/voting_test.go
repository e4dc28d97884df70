package roundtable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func readyVote(agent, option string, confidence, weight float64, at time.Time) Vote {
	return Vote{
		AgentID:    agent,
		Option:     option,
		Confidence: confidence,
		Weight:     weight,
		ProducedAt: at,
		State:      VoteReady,
	}
}

func TestTallyMajority_Quorum(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	votes := []Vote{
		readyVote("a1", "yes", 0.9, 1, at),
		readyVote("a2", "yes", 0.8, 1, at),
		readyVote("a3", "no", 0.7, 1, at),
	}

	got := tallyMajority(votes, 0.6, TieHighestConfidence)
	require.Equal(t, "yes", got.winner)
	require.True(t, got.achieved)
	require.InDelta(t, 2.0/3.0, got.score, 1e-9)
	require.Empty(t, got.tieBreaker)

	// Quorum above the winner's share: winner stands, consensus does not.
	got = tallyMajority(votes, 0.7, TieHighestConfidence)
	require.Equal(t, "yes", got.winner)
	require.False(t, got.achieved)
}

func TestTallyMajority_TieBreakerNone(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	votes := []Vote{
		readyVote("a1", "yes", 0.9, 1, at),
		readyVote("a2", "no", 0.9, 1, at),
	}
	got := tallyMajority(votes, 0.5, TieNone)
	require.Empty(t, got.winner)
	require.False(t, got.achieved)
}

func TestTallyWeighted_ConfidenceScalesWeight(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	votes := []Vote{
		readyVote("a1", "yes", 0.5, 2, at),
		readyVote("a2", "no", 1.0, 1, at),
	}
	// yes 1.0, no 1.0: a weight tie despite different raw weights.
	got := tallyWeighted(votes, 0.5, TieHighestConfidence)
	require.Equal(t, "no", got.winner)
	require.Equal(t, TieHighestConfidence, got.tieBreaker)
}

func TestPickWinner_EscalationLadder(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("confidence tie falls through to weight", func(t *testing.T) {
		votes := []Vote{
			readyVote("a1", "yes", 0.8, 2, at),
			readyVote("a2", "no", 0.8, 1, at),
		}
		got := tallyMajority(votes, 0.5, TieHighestConfidence)
		require.Equal(t, "yes", got.winner)
		require.Equal(t, TieHighestWeight, got.tieBreaker)
	})

	t.Run("weight tie falls through to earliest", func(t *testing.T) {
		votes := []Vote{
			readyVote("a1", "yes", 0.8, 1, at.Add(time.Second)),
			readyVote("a2", "no", 0.8, 1, at),
		}
		got := tallyMajority(votes, 0.5, TieHighestConfidence)
		require.Equal(t, "no", got.winner)
		require.Equal(t, TieEarliest, got.tieBreaker)
	})

	t.Run("full tie resolves lexically", func(t *testing.T) {
		votes := []Vote{
			readyVote("a1", "zulu", 0.8, 1, at),
			readyVote("a2", "alpha", 0.8, 1, at),
		}
		got := tallyMajority(votes, 0.5, TieHighestConfidence)
		require.Equal(t, "alpha", got.winner)
		require.Equal(t, TieLex, got.tieBreaker)
	})

	t.Run("requested rule skips earlier ladder steps", func(t *testing.T) {
		votes := []Vote{
			readyVote("a1", "yes", 0.9, 1, at.Add(time.Second)),
			readyVote("a2", "no", 0.1, 1, at),
		}
		got := tallyMajority(votes, 0.5, TieEarliest)
		require.Equal(t, "no", got.winner)
		require.Equal(t, TieEarliest, got.tieBreaker)
	})
}

func TestTallyBorda_PointsAndFirstRankAggregates(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	votes := []Vote{
		{AgentID: "a1", Ranking: []string{"x", "y"}, Confidence: 0.9, Weight: 1, ProducedAt: at, State: VoteReady},
		{AgentID: "a2", Ranking: []string{"y", "x"}, Confidence: 0.5, Weight: 1, ProducedAt: at, State: VoteReady},
	}
	// x 1, y 1: tie; first-rank confidence favors x (0.9 over 0.5).
	got := tallyBorda(votes, 0.5, TieHighestConfidence)
	require.Equal(t, "x", got.winner)
	require.Equal(t, TieHighestConfidence, got.tieBreaker)
	require.InDelta(t, 0.5, got.score, 1e-9)
	require.True(t, got.achieved)
}

func TestDecide_EmptyVotes(t *testing.T) {
	for _, mode := range []Mode{ModeMajority, ModeWeighted, ModeBorda} {
		got := decide(mode, nil, 0.5, TieHighestConfidence)
		require.Empty(t, got.winner, "mode %s", mode)
		require.False(t, got.achieved, "mode %s", mode)
	}
}

func TestNormalizeOption(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Yes", "yes"},
		{"  YES  please ", "yes please"},
		{"ＹＥＳ", "yes"},
		{"no\n", "no"},
		{"a\t b", "a b"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, NormalizeOption(tt.in), "input %q", tt.in)
	}
}

func TestParseRanking(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, ParseRanking("A > B > C"))
	require.Equal(t, []string{"a", "b"}, ParseRanking("a\nb"))
	require.Equal(t, []string{"only"}, ParseRanking("only"))
	require.Nil(t, ParseRanking(""))
}
