package aggregate

import "strings"

// Certainty is the confidence level the speaker expressed in a belief.
type Certainty string

const (
	CertaintyHigh   Certainty = "high"
	CertaintyMedium Certainty = "medium"
	CertaintyLow    Certainty = "low"
)

// ParseCertainty normalizes s, reporting whether it names a known level.
func ParseCertainty(s string) (Certainty, bool) {
	switch c := Certainty(strings.ToLower(strings.TrimSpace(s))); c {
	case CertaintyHigh, CertaintyMedium, CertaintyLow:
		return c, true
	default:
		return "", false
	}
}

// Belief is one belief the target speaker explicitly expressed.
type Belief struct {
	Belief        string    `json:"belief"`
	Type          string    `json:"type,omitempty"` // empirical | rational | axiological | metaphysical | other
	Context       string    `json:"context"`
	Justification string    `json:"justification"`
	Certainty     Certainty `json:"certainty"`
}

// Item ties a belief to the chunk it was extracted from.
type Item struct {
	ChunkIndex int    `json:"chunk_index"`
	Belief     Belief `json:"belief"`
}

// Stage identifies where a chunk failed.
type Stage string

const (
	StageExtract Stage = "extract" // the transformation returned an error result
	StageDecode  Stage = "decode"  // the payload was not a list of beliefs
)

// ChunkError records why a chunk contributed no beliefs.
type ChunkError struct {
	ChunkIndex int    `json:"chunk_index"`
	Stage      Stage  `json:"stage"`
	Message    string `json:"message"`
}

// Report is the flattened output of a batch.
type Report struct {
	Chunks  int          `json:"chunks"`
	Beliefs []Item       `json:"beliefs"`
	Errors  []ChunkError `json:"errors"`
}

// FailedChunks returns the indices of chunks that need to be re-driven.
func (r Report) FailedChunks() []int {
	out := make([]int, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.ChunkIndex)
	}
	return out
}

// ByChunk groups beliefs by chunk index, preserving order within each chunk.
func (r Report) ByChunk() map[int][]Belief {
	out := make(map[int][]Belief)
	for _, it := range r.Beliefs {
		out[it.ChunkIndex] = append(out[it.ChunkIndex], it.Belief)
	}
	return out
}
