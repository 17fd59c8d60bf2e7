package index

import (
	"sort"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

// TermStat is the per-document occurrence record of one term.
type TermStat struct {
	Term      string
	Hash      ring.Hash
	Frequency int
	Positions []int
}

// HashTerm maps a normalised word to its ring position.
func HashTerm(word string) ring.Hash {
	return ring.Of(strings.ToLower(word))
}

// Terms splits text on non-alphanumeric runes, lower-cases the words and
// groups them by term. Single-rune words are skipped.
func Terms(text string) []TermStat {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	byTerm := make(map[string]*TermStat)
	pos := 0
	for _, w := range words {
		if len([]rune(w)) < 2 {
			continue
		}
		st, ok := byTerm[w]
		if !ok {
			st = &TermStat{Term: w, Hash: ring.Of(w)}
			byTerm[w] = st
		}
		st.Frequency++
		st.Positions = append(st.Positions, pos)
		pos++
	}
	stats := make([]TermStat, 0, len(byTerm))
	for _, st := range byTerm {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Term < stats[j].Term })
	return stats
}
