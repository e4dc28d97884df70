package roundtable

import (
	"math"
	"sort"
)

// tally is the outcome of applying a voting rule to the ready votes.
type tally struct {
	winner     string
	achieved   bool
	score      float64
	tieBreaker TieBreaker
}

// optionStat aggregates the votes contributing to one option.
type optionStat struct {
	option     string
	points     float64
	confSum    float64
	confCount  int
	weightSum  float64
	earliestAt int64
}

func decide(mode Mode, votes []Vote, quorum float64, tb TieBreaker) tally {
	switch mode {
	case ModeWeighted:
		return tallyWeighted(votes, quorum, tb)
	case ModeBorda:
		return tallyBorda(votes, quorum, tb)
	default:
		return tallyMajority(votes, quorum, tb)
	}
}

// tallyMajority counts normalized options. The winner needs
// count >= ceil(quorum * |ready votes|); the score is count / |ready votes|.
func tallyMajority(votes []Vote, quorum float64, tb TieBreaker) tally {
	if len(votes) == 0 {
		return tally{}
	}
	stats := collect(votes, func(v Vote) float64 { return 1 })

	winner, applied, ok := pickWinner(stats, tb)
	if !ok {
		return tally{}
	}
	needed := math.Ceil(quorum * float64(len(votes)))
	count := stats[winner].points
	return tally{
		winner:     winner,
		achieved:   count >= needed,
		score:      count / float64(len(votes)),
		tieBreaker: applied,
	}
}

// tallyWeighted sums agent weight x confidence per option. The winner needs
// a weight share >= quorum of the total; the score is that share.
func tallyWeighted(votes []Vote, quorum float64, tb TieBreaker) tally {
	if len(votes) == 0 {
		return tally{}
	}
	stats := collect(votes, func(v Vote) float64 { return v.Weight * v.Confidence })

	total := 0.0
	for _, s := range stats {
		total += s.points
	}
	if total <= 0 {
		return tally{}
	}

	winner, applied, ok := pickWinner(stats, tb)
	if !ok {
		return tally{}
	}
	share := stats[winner].points / total
	return tally{
		winner:     winner,
		achieved:   share >= quorum,
		score:      share,
		tieBreaker: applied,
	}
}

// tallyBorda scores ranked votes: a vote ranking M options gives M-i points
// to the option at 1-based position i. The winner needs a point share
// >= quorum; the score is that share.
func tallyBorda(votes []Vote, quorum float64, tb TieBreaker) tally {
	stats := make(map[string]*optionStat)
	total := 0.0
	for _, v := range votes {
		m := len(v.Ranking)
		for i, option := range v.Ranking {
			points := float64(m - i - 1)
			s := stats[option]
			if s == nil {
				s = &optionStat{option: option, earliestAt: math.MaxInt64}
				stats[option] = s
			}
			s.points += points
			total += points
			// Tie-break aggregates consider only votes that rank the
			// option first.
			if i == 0 {
				s.confSum += v.Confidence
				s.confCount++
				s.weightSum += v.Weight
				if t := v.ProducedAt.UnixNano(); t < s.earliestAt {
					s.earliestAt = t
				}
			}
		}
	}
	if total <= 0 {
		return tally{}
	}

	winner, applied, ok := pickWinner(stats, tb)
	if !ok {
		return tally{}
	}
	share := stats[winner].points / total
	return tally{
		winner:     winner,
		achieved:   share >= quorum,
		score:      share,
		tieBreaker: applied,
	}
}

// collect aggregates single-option votes using the given scoring function.
func collect(votes []Vote, score func(Vote) float64) map[string]*optionStat {
	stats := make(map[string]*optionStat)
	for _, v := range votes {
		s := stats[v.Option]
		if s == nil {
			s = &optionStat{option: v.Option, earliestAt: math.MaxInt64}
			stats[v.Option] = s
		}
		s.points += score(v)
		s.confSum += v.Confidence
		s.confCount++
		s.weightSum += v.Weight
		if t := v.ProducedAt.UnixNano(); t < s.earliestAt {
			s.earliestAt = t
		}
	}
	return stats
}

// pickWinner finds the top-scoring option and resolves ties. It reports the
// tie-break rule that actually separated the tie, or empty when the top was
// unique. With tie_breaker none, an unresolved tie yields no winner.
func pickWinner(stats map[string]*optionStat, tb TieBreaker) (string, TieBreaker, bool) {
	if len(stats) == 0 {
		return "", "", false
	}
	top := math.Inf(-1)
	for _, s := range stats {
		if s.points > top {
			top = s.points
		}
	}
	var tied []*optionStat
	for _, s := range stats {
		if s.points == top {
			tied = append(tied, s)
		}
	}
	if len(tied) == 1 {
		return tied[0].option, "", true
	}
	if tb == TieNone || tb == "" {
		return "", "", false
	}

	// Escalation ladder: each rule filters the tie set; the first rule that
	// narrows it to one option is recorded.
	rules := []TieBreaker{TieHighestConfidence, TieHighestWeight, TieEarliest}
	start := 0
	for i, r := range rules {
		if r == tb {
			start = i
		}
	}
	for _, rule := range rules[start:] {
		tied = filterTop(tied, func(s *optionStat) float64 {
			switch rule {
			case TieHighestConfidence:
				if s.confCount == 0 {
					return math.Inf(-1)
				}
				return s.confSum / float64(s.confCount)
			case TieHighestWeight:
				return s.weightSum
			default:
				// Earliest production time ranks smaller as better.
				return -float64(s.earliestAt)
			}
		})
		if len(tied) == 1 {
			return tied[0].option, rule, true
		}
	}

	// Lexical order of the normalized option is the terminal fallback.
	sort.Slice(tied, func(i, j int) bool { return tied[i].option < tied[j].option })
	return tied[0].option, TieLex, true
}

func filterTop(stats []*optionStat, score func(*optionStat) float64) []*optionStat {
	best := math.Inf(-1)
	for _, s := range stats {
		if v := score(s); v > best {
			best = v
		}
	}
	var out []*optionStat
	for _, s := range stats {
		if score(s) == best {
			out = append(out, s)
		}
	}
	return out
}
