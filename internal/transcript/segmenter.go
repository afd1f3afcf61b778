package transcript

import "strings"

// Segment splits entries into chunks anchored on turns by target. Each chunk is
// the unconsumed run of other speakers before a target turn, the contiguous
// target turns, and the run of other speakers after them. Entries are consumed
// exactly once, left to right. Returns nil when target never speaks.
func Segment(entries []Entry, target string) []Chunk {
	var chunks []Chunk
	consumed := 0 // entries before this index belong to an earlier chunk

	i := 0
	for i < len(entries) {
		if entries[i].Speaker != target {
			i++
			continue
		}

		start := i
		for start > consumed && entries[start-1].Speaker != target {
			start--
		}

		for i < len(entries) && entries[i].Speaker == target {
			i++
		}
		for i < len(entries) && entries[i].Speaker != target {
			i++
		}

		chunks = append(chunks, buildChunk(entries[start:i], len(chunks)))
		consumed = i
	}

	return chunks
}

func buildChunk(window []Entry, idx int) Chunk {
	c := Chunk{
		Index:   idx,
		Entries: make([]Entry, len(window)),
	}
	copy(c.Entries, window)
	c.Text = FormatEntries(c.Entries)
	return c
}

// FormatEntries renders entries as "speaker\ntext" blocks joined by newlines.
func FormatEntries(entries []Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Speaker + "\n" + e.Text
	}
	return strings.Join(parts, "\n")
}
