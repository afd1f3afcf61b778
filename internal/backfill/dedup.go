package backfill

import (
	"github.com/MikeSquared-Agency/doxa/internal/transcript"
)

// overlapThreshold is the fraction of turns that must match to consider two
// transcripts the same episode.
const overlapThreshold = 0.8

// fileFingerprint identifies a transcript by its turns, so the same episode
// saved under two names is only extracted once.
type fileFingerprint struct {
	Path  string
	Turns map[string]struct{} // speaker + start time
}

// BuildFingerprint creates a fingerprint from parsed transcript entries.
func BuildFingerprint(path string, entries []transcript.Entry) fileFingerprint {
	fp := fileFingerprint{
		Path:  path,
		Turns: make(map[string]struct{}, len(entries)),
	}

	for _, e := range entries {
		fp.Turns[e.Speaker+"\x00"+e.StartTime] = struct{}{}
	}

	return fp
}

// FindDuplicates walks fingerprints in order and returns the paths that
// overlap an earlier kept file. The first copy of an episode wins.
func FindDuplicates(fps []fileFingerprint) map[string]bool {
	duplicates := make(map[string]bool)
	var kept []fileFingerprint

	for _, fp := range fps {
		dup := false
		for _, k := range kept {
			if isOverlapping(k, fp) {
				dup = true
				break
			}
		}
		if dup {
			duplicates[fp.Path] = true
			continue
		}
		kept = append(kept, fp)
	}

	return duplicates
}

// isOverlapping checks if at least 80% of b's turns appear in a.
func isOverlapping(a, b fileFingerprint) bool {
	if len(b.Turns) == 0 {
		return false
	}

	matches := 0
	for turn := range b.Turns {
		if _, ok := a.Turns[turn]; ok {
			matches++
		}
	}

	return float64(matches)/float64(len(b.Turns)) >= overlapThreshold
}
