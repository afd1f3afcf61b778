package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/doxa/internal/aggregate"
	"github.com/MikeSquared-Agency/doxa/internal/pipeline"
)

// Markdown renders a run as a document with one section per chunk. Chunk
// headings are 1-based. Failed chunks carry an inline error marker instead of
// beliefs.
func Markdown(run *pipeline.Run) string {
	var b strings.Builder
	report := run.Report

	// Header
	if run.TargetSpeaker != "" {
		fmt.Fprintf(&b, "# Beliefs of %s\n\n", run.TargetSpeaker)
	} else {
		b.WriteString("# Extracted Beliefs\n\n")
	}
	if run.Source != "" {
		fmt.Fprintf(&b, "- Source: `%s`\n", run.Source)
	}
	fmt.Fprintf(&b, "- Run: `%s`\n", run.ID)
	fmt.Fprintf(&b, "- Chunks: %d (%d failed)\n", report.Chunks, len(report.Errors))
	fmt.Fprintf(&b, "- Beliefs: %d\n", len(report.Beliefs))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "- Generated: %s\n", run.FinishedAt.Format(time.RFC3339))
	}
	b.WriteString("\n---\n\n")

	// Body
	byChunk := report.ByChunk()
	failed := make(map[int]aggregate.ChunkError, len(report.Errors))
	for _, e := range report.Errors {
		failed[e.ChunkIndex] = e
	}

	for idx := 0; idx < report.Chunks; idx++ {
		fmt.Fprintf(&b, "## Chunk %d", idx+1)
		if ts := chunkStart(run, idx); ts != "" {
			fmt.Fprintf(&b, " [%s]", ts)
		}
		b.WriteString("\n\n")

		if e, ok := failed[idx]; ok {
			fmt.Fprintf(&b, "> **Error** (%s): %s\n\n", e.Stage, oneLine(e.Message))
			continue
		}

		beliefs := byChunk[idx]
		if len(beliefs) == 0 {
			b.WriteString("_No beliefs expressed._\n\n")
			continue
		}
		for _, bl := range beliefs {
			writeBelief(&b, bl)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeBelief(b *strings.Builder, bl aggregate.Belief) {
	fmt.Fprintf(b, "- **%s**", strings.TrimSpace(bl.Belief))
	if bl.Type != "" {
		fmt.Fprintf(b, " _(%s, %s)_\n", bl.Type, bl.Certainty)
	} else {
		fmt.Fprintf(b, " _(%s)_\n", bl.Certainty)
	}
	if bl.Context != "" {
		fmt.Fprintf(b, "  - Context: %s\n", oneLine(bl.Context))
	}
	if bl.Justification != "" {
		fmt.Fprintf(b, "  - Justification: %s\n", oneLine(bl.Justification))
	}
}

// chunkStart returns the timestamp of the chunk's first entry, if known.
func chunkStart(run *pipeline.Run, idx int) string {
	if idx >= len(run.Chunks) || len(run.Chunks[idx].Entries) == 0 {
		return ""
	}
	return run.Chunks[idx].Entries[0].StartTime
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
