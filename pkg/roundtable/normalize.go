package roundtable

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeOption canonicalizes an agent's textual answer: unicode NFKC,
// lower-cased, inner whitespace collapsed to single spaces.
func NormalizeOption(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// ParseRanking splits a textual answer into a normalized ranked option
// list. Options are separated by ">" or, failing that, by newlines.
func ParseRanking(s string) []string {
	parts := strings.Split(s, ">")
	if len(parts) < 2 {
		parts = strings.Split(s, "\n")
	}
	var out []string
	for _, p := range parts {
		if n := NormalizeOption(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// distinct reports whether every entry of a normalized ranking is unique.
func distinct(ranking []string) bool {
	seen := make(map[string]bool, len(ranking))
	for _, o := range ranking {
		if seen[o] {
			return false
		}
		seen[o] = true
	}
	return true
}
