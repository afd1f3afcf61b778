package transcript

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// marker matches a two-token speaker name followed by a timestamp on its own line,
// e.g. "Dwarkesh Patel 00:01:12". Name tokens may contain any Unicode letter.
var marker = regexp.MustCompile(`(?m)^[ \t]*([\p{L}\p{M}\p{N}_]+[ \t][\p{L}\p{M}\p{N}_]+)[ \t](\d{2}:\d{2}:\d{2})[ \t]*\r?\n`)

// Parse splits raw transcript text into entries. The utterance following a marker
// runs until the next marker or end of input. Text before the first marker is ignored.
func Parse(raw string) []Entry {
	locs := marker.FindAllStringSubmatchIndex(raw, -1)
	if len(locs) == 0 {
		return nil
	}

	entries := make([]Entry, 0, len(locs))
	for i, loc := range locs {
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		text := strings.TrimSpace(raw[loc[1]:end])
		if text == "" {
			continue
		}
		entries = append(entries, Entry{
			Speaker:   raw[loc[2]:loc[3]],
			StartTime: raw[loc[4]:loc[5]],
			Text:      text,
		})
	}
	return entries
}

// ParseFile reads and parses a transcript file.
func ParseFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return Parse(string(data)), nil
}

// Speakers returns the distinct speakers in order of first appearance.
func Speakers(entries []Entry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		if seen[e.Speaker] {
			continue
		}
		seen[e.Speaker] = true
		out = append(out, e.Speaker)
	}
	return out
}

// DefaultTarget returns the second distinct speaker. Interview transcripts open
// with the host, so this is usually the guest.
func DefaultTarget(entries []Entry) (string, bool) {
	speakers := Speakers(entries)
	if len(speakers) < 2 {
		return "", false
	}
	return speakers[1], true
}
