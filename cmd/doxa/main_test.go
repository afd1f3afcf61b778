package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/MikeSquared-Agency/doxa/internal/aggregate"
	"github.com/MikeSquared-Agency/doxa/internal/backfill"
	"github.com/MikeSquared-Agency/doxa/internal/config"
	"github.com/MikeSquared-Agency/doxa/internal/pipeline"
	"github.com/MikeSquared-Agency/doxa/internal/transcript"
)

const sampleTranscript = `Dwarkesh Patel 00:00:01
What happens by 2027?
Leopold Aschenbrenner 00:00:05
I think we get AGI.
Dwarkesh Patel 00:01:00
Why?
Leopold Aschenbrenner 00:01:04
Count the OOMs.
`

func writeTranscript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "episode.txt")
	if err := os.WriteFile(path, []byte(sampleTranscript), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"version": false, "serve": false, "extract": false, "speakers": false, "backfill": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "doxa version "+version) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSpeakersCmd(t *testing.T) {
	out, err := execute(t, "speakers", "--file", writeTranscript(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 speakers, got %q", out)
	}
	if !strings.HasPrefix(lines[0], "Dwarkesh Patel") || strings.Contains(lines[0], "default target") {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(lines[1], "Leopold Aschenbrenner") || !strings.Contains(lines[1], "(default target)") {
		t.Errorf("unexpected second line %q", lines[1])
	}
}

func TestSpeakersCmd_JSON(t *testing.T) {
	out, err := execute(t, "speakers", "--file", writeTranscript(t), "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var infos []speakerInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if len(infos) != 2 || infos[1].Turns != 2 || !infos[1].Default {
		t.Errorf("unexpected speakers %+v", infos)
	}
}

func TestSpeakersCmd_MissingFile(t *testing.T) {
	if _, err := execute(t, "speakers", "--file", "/does/not/exist.txt"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExtractCmd_RejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "extract", "--file", writeTranscript(t), "--format", "pdf")
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Fatalf("expected unknown format error, got %v", err)
	}
}

func TestExtractCmd_RequiresAPIKey(t *testing.T) {
	t.Setenv("DOXA_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := execute(t, "extract", "--file", writeTranscript(t))
	if err == nil || !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestWriteReport(t *testing.T) {
	run := &pipeline.Run{
		ID:            uuid.New(),
		TargetSpeaker: "Leopold Aschenbrenner",
		Report: aggregate.Report{
			Chunks:  1,
			Beliefs: []aggregate.Item{{ChunkIndex: 0, Belief: aggregate.Belief{Belief: "AGI by 2027.", Certainty: aggregate.CertaintyHigh}}},
			Errors:  []aggregate.ChunkError{},
		},
	}

	var md bytes.Buffer
	if err := writeReport(&md, run, "markdown"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md.String(), "**AGI by 2027.**") {
		t.Errorf("unexpected markdown %q", md.String())
	}

	var js bytes.Buffer
	if err := writeReport(&js, run, "json"); err != nil {
		t.Fatal(err)
	}
	var decoded pipeline.Run
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.ID != run.ID || len(decoded.Report.Beliefs) != 1 {
		t.Errorf("unexpected decoded run %+v", decoded)
	}
}

func TestSpeakerInfos_Empty(t *testing.T) {
	infos := speakerInfos(transcript.Parse("no markers"))
	if infos == nil || len(infos) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", infos)
	}
}

func TestLoadPrompt_EnvOverrides(t *testing.T) {
	cfg := config.Config{Host: "Dwarkesh Patel", Guest: "Leopold Aschenbrenner"}

	p, err := loadPrompt(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Host != "Dwarkesh Patel" || p.Guest != "Leopold Aschenbrenner" {
		t.Errorf("unexpected names %q/%q", p.Host, p.Guest)
	}
}

func TestNewLLM(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{config.ProviderAnthropic, false},
		{config.ProviderOpenAI, false},
		{"mistral", true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			llm, err := newLLM(config.Config{Provider: tt.provider, AnthropicAPIKey: "k", OpenAIAPIKey: "k"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && llm == nil {
				t.Fatal("expected client")
			}
		})
	}
}

func TestBackfillCmd_DryRun(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "")
	path := writeTranscript(t)
	state := filepath.Join(t.TempDir(), "state.json")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"backfill", "--dir", filepath.Dir(path), "--state", state, "--dry-run", "--json"})
	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var summaries []backfill.FileSummary
	if err := json.Unmarshal(out.Bytes(), &summaries); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if len(summaries) != 1 || summaries[0].TargetSpeaker != "Leopold Aschenbrenner" || summaries[0].Chunks != 2 {
		t.Errorf("unexpected summaries %+v", summaries)
	}
}

func TestBackfillCmd_RequiresInput(t *testing.T) {
	_, err := execute(t, "backfill", "--dry-run")
	if err == nil || !strings.Contains(err.Error(), "--dir or --file") {
		t.Fatalf("expected missing input error, got %v", err)
	}
}

func TestWriteBackfillSummary(t *testing.T) {
	var buf bytes.Buffer
	err := writeBackfillSummary(&buf, []backfill.FileSummary{
		{Path: "ep1.txt", Chunks: 3, Beliefs: 5},
		{Path: "ep2.txt", Err: "boom"},
	}, false, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Files processed: 2", "Beliefs found: 5", "Files failed: 1", "DRY RUN"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("summary missing %q: %q", want, buf.String())
		}
	}
}
