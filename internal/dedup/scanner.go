package dedup

import (
	"strings"
	"unicode"
)

// DuplicatePair is two report positions whose beliefs look alike.
type DuplicatePair struct {
	A, B       int
	Similarity float64
}

// Scanner finds near-duplicate beliefs by token overlap.
type Scanner struct {
	threshold float64
}

// NewScanner returns a scanner that pairs beliefs whose Jaccard similarity
// is at least threshold.
func NewScanner(threshold float64) *Scanner {
	return &Scanner{threshold: threshold}
}

// FindDuplicates compares every pair of texts and returns those above the
// threshold, most similar first within each A.
func (s *Scanner) FindDuplicates(texts []string) []DuplicatePair {
	sets := make([]map[string]struct{}, len(texts))
	for i, t := range texts {
		sets[i] = tokens(t)
	}

	var pairs []DuplicatePair
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			sim := jaccard(sets[i], sets[j])
			if sim >= s.threshold {
				pairs = append(pairs, DuplicatePair{A: i, B: j, Similarity: sim})
			}
		}
	}
	return pairs
}

// tokens lowercases text and splits it on anything that is not a letter or
// digit.
func tokens(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}
