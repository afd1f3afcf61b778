package dedup

import "github.com/MikeSquared-Agency/doxa/internal/aggregate"

// certaintyRank orders certainty levels; unknown levels rank lowest.
var certaintyRank = map[aggregate.Certainty]int{
	aggregate.CertaintyHigh:   3,
	aggregate.CertaintyMedium: 2,
	aggregate.CertaintyLow:    1,
}

// Rank picks the survivor from a cluster of report positions. Higher
// certainty wins, then the belief with a justification, then the earliest
// position.
func Rank(items []aggregate.Item, cluster []int) int {
	best := cluster[0]
	for _, pos := range cluster[1:] {
		if isBetter(items[pos], items[best], pos, best) {
			best = pos
		}
	}
	return best
}

func isBetter(a, b aggregate.Item, posA, posB int) bool {
	ra, rb := certaintyRank[a.Belief.Certainty], certaintyRank[b.Belief.Certainty]
	if ra != rb {
		return ra > rb
	}
	ja, jb := a.Belief.Justification != "", b.Belief.Justification != ""
	if ja != jb {
		return ja
	}
	return posA < posB
}
