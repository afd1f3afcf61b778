package aggregate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/MikeSquared-Agency/doxa/internal/runner"
)

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrNotBeliefs   = errors.New("payload is not a list of beliefs")
)

// Decode parses a payload into beliefs. It accepts a bare JSON array or an
// object with a "beliefs" array. Every record must carry a belief statement and
// a known certainty level; one malformed record rejects the whole payload.
func Decode(payload string) ([]Belief, error) {
	data := bytes.TrimSpace([]byte(payload))
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	var raw []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
	case '{':
		var wrapped struct {
			Beliefs *[]json.RawMessage `json:"beliefs"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		if wrapped.Beliefs == nil {
			return nil, fmt.Errorf("%w: missing \"beliefs\" key", ErrNotBeliefs)
		}
		raw = *wrapped.Beliefs
	default:
		return nil, fmt.Errorf("%w: unexpected leading %q", ErrNotBeliefs, data[0])
	}

	beliefs := make([]Belief, 0, len(raw))
	for i, r := range raw {
		b, err := decodeBelief(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		beliefs = append(beliefs, b)
	}
	return beliefs, nil
}

// decodeBelief also accepts "confidence", the key used by the typed schema.
func decodeBelief(data json.RawMessage) (Belief, error) {
	var rec struct {
		Belief        string `json:"belief"`
		Type          string `json:"type"`
		Context       string `json:"context"`
		Justification string `json:"justification"`
		Certainty     string `json:"certainty"`
		Confidence    string `json:"confidence"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return Belief{}, fmt.Errorf("%w: %v", ErrNotBeliefs, err)
	}
	if rec.Belief == "" {
		return Belief{}, fmt.Errorf("%w: missing belief", ErrNotBeliefs)
	}

	level := rec.Certainty
	if level == "" {
		level = rec.Confidence
	}
	certainty, ok := ParseCertainty(level)
	if !ok {
		return Belief{}, fmt.Errorf("%w: invalid certainty %q", ErrNotBeliefs, level)
	}

	return Belief{
		Belief:        rec.Belief,
		Type:          rec.Type,
		Context:       rec.Context,
		Justification: rec.Justification,
		Certainty:     certainty,
	}, nil
}

// Aggregate flattens per-chunk results into a report. Failed or undecodable
// chunks are recorded as errors and never stop the remaining chunks.
func Aggregate(results []runner.Result) Report {
	ordered := make([]runner.Result, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ChunkIndex < ordered[j].ChunkIndex
	})

	report := Report{
		Chunks:  len(results),
		Beliefs: []Item{},
		Errors:  []ChunkError{},
	}

	for _, res := range ordered {
		if !res.OK() {
			msg := res.Message()
			if msg == "" {
				msg = string(res.Status)
			}
			report.Errors = append(report.Errors, ChunkError{
				ChunkIndex: res.ChunkIndex,
				Stage:      StageExtract,
				Message:    msg,
			})
			continue
		}

		beliefs, err := Decode(res.Payload)
		if err != nil {
			report.Errors = append(report.Errors, ChunkError{
				ChunkIndex: res.ChunkIndex,
				Stage:      StageDecode,
				Message:    err.Error(),
			})
			continue
		}
		for _, b := range beliefs {
			report.Beliefs = append(report.Beliefs, Item{ChunkIndex: res.ChunkIndex, Belief: b})
		}
	}

	return report
}
