package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/MikeSquared-Agency/doxa/internal/aggregate"
	"github.com/MikeSquared-Agency/doxa/internal/cache"
	"github.com/MikeSquared-Agency/doxa/internal/extractor"
	"github.com/MikeSquared-Agency/doxa/internal/hermes"
	"github.com/MikeSquared-Agency/doxa/internal/runner"
	"github.com/MikeSquared-Agency/doxa/internal/transcript"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }

func newRunner() *runner.Runner {
	return runner.New(runner.WithConcurrency(4), runner.WithSleep(noSleep))
}

type fakeStore struct {
	mu   sync.Mutex
	runs []*Run
	err  error
}

func (s *fakeStore) SaveRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return s.err
}

type fakePublisher struct {
	subjects []string
	events   []hermes.RunCompleted
	err      error
}

func (p *fakePublisher) Publish(subject string, data any) error {
	p.subjects = append(p.subjects, subject)
	if evt, ok := data.(hermes.RunCompleted); ok {
		p.events = append(p.events, evt)
	}
	return p.err
}

type fakeNotifier struct{ calls int }

func (n *fakeNotifier) PostRunSummary(context.Context, *Run) error {
	n.calls++
	return errors.New("slack down")
}

func interview() []transcript.Entry {
	return []transcript.Entry{
		{Speaker: "Dwarkesh Patel", StartTime: "00:00:01", Text: "What happens by 2027?"},
		{Speaker: "Leopold Aschenbrenner", StartTime: "00:00:05", Text: "I think we get AGI."},
		{Speaker: "Dwarkesh Patel", StartTime: "00:01:10", Text: "And security?"},
		{Speaker: "Leopold Aschenbrenner", StartTime: "00:01:15", Text: "FAIL the labs are not ready."},
		{Speaker: "Dwarkesh Patel", StartTime: "00:02:00", Text: "Interesting."},
	}
}

// failingOn rejects any chunk containing marker until healed is set.
func failingOn(marker string, healed *atomic.Bool) runner.TransformFunc {
	return func(_ context.Context, text string) (string, error) {
		if strings.Contains(text, marker) && !healed.Load() {
			return "", runner.Permanent(errors.New("refused"))
		}
		return `[{"belief": "AGI by 2027.", "certainty": "high"}]`, nil
	}
}

func TestRun_RequiresTarget(t *testing.T) {
	p := New(newRunner(), failingOn("x", new(atomic.Bool)), discardLogger())

	_, err := p.Run(context.Background(), Request{Entries: interview(), TargetSpeaker: "  "})
	if !errors.Is(err, ErrNoTarget) {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
}

func TestRun_RequiresEntries(t *testing.T) {
	p := New(newRunner(), failingOn("x", new(atomic.Bool)), discardLogger())

	_, err := p.Run(context.Background(), Request{TargetSpeaker: "Leopold Aschenbrenner"})
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	p := New(newRunner(), failingOn("FAIL", new(atomic.Bool)), discardLogger(),
		WithStore(store), WithPublisher(pub))

	run, err := p.Run(context.Background(), Request{
		Entries:       interview(),
		TargetSpeaker: "Leopold Aschenbrenner",
		Source:        "episode.txt",
	})

	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(run.Chunks))
	assert.Equal(t, 2, len(run.Results))
	assert.Equal(t, 2, run.Report.Chunks)
	assert.Equal(t, 1, len(run.Report.Beliefs))
	assert.Equal(t, 0, run.Report.Beliefs[0].ChunkIndex)
	assert.Equal(t, []int{1}, run.Report.FailedChunks())
	assert.Equal(t, "episode.txt", run.Source)
	if run.FinishedAt.Before(run.StartedAt) {
		t.Error("finished before started")
	}

	assert.Equal(t, 1, len(store.runs))
	assert.Equal(t, run.ID, store.runs[0].ID)

	assert.Equal(t, []string{hermes.SubjectRunCompleted}, pub.subjects)
	assert.Equal(t, run.ID.String(), pub.events[0].RunID)
	assert.Equal(t, 1, pub.events[0].Beliefs)
	assert.Equal(t, []int{1}, pub.events[0].FailedChunks)
}

func TestRun_TargetNeverSpeaks(t *testing.T) {
	p := New(newRunner(), failingOn("x", new(atomic.Bool)), discardLogger())

	run, err := p.Run(context.Background(), Request{Entries: interview(), TargetSpeaker: "Nobody Here"})

	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(run.Chunks))
	assert.Equal(t, 0, run.Report.Chunks)
	assert.Equal(t, 0, len(run.Report.Errors))
}

func TestRun_SideEffectFailuresAreNotFatal(t *testing.T) {
	notifier := &fakeNotifier{}
	p := New(newRunner(), failingOn("x", new(atomic.Bool)), discardLogger(),
		WithStore(&fakeStore{err: errors.New("db down")}),
		WithPublisher(&fakePublisher{err: errors.New("nats down")}),
		WithNotifier(notifier),
	)

	run, err := p.Run(context.Background(), Request{Entries: interview(), TargetSpeaker: "Leopold Aschenbrenner"})

	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(run.Report.Beliefs))
	assert.Equal(t, 1, notifier.calls)
}

func TestRun_UniqueIDs(t *testing.T) {
	p := New(newRunner(), failingOn("x", new(atomic.Bool)), discardLogger())
	req := Request{Entries: interview(), TargetSpeaker: "Leopold Aschenbrenner"}

	a, _ := p.Run(context.Background(), req)
	b, _ := p.Run(context.Background(), req)
	if a.ID == b.ID {
		t.Error("expected distinct run IDs")
	}
}

func TestRedrive_OnlyFailedChunks(t *testing.T) {
	healed := new(atomic.Bool)
	var calls atomic.Int32
	base := failingOn("FAIL", healed)
	counting := func(ctx context.Context, text string) (string, error) {
		calls.Add(1)
		return base(ctx, text)
	}

	store := &fakeStore{}
	p := New(newRunner(), counting, discardLogger(), WithStore(store))

	run, err := p.Run(context.Background(), Request{Entries: interview(), TargetSpeaker: "Leopold Aschenbrenner"})
	assert.Equal(t, nil, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, len(run.Report.Errors))

	healed.Store(true)
	redone, err := p.Redrive(context.Background(), run)

	assert.Equal(t, nil, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, run.ID, redone.ID)
	assert.Equal(t, 0, len(redone.Report.Errors))
	assert.Equal(t, 2, len(redone.Report.Beliefs))
	assert.Equal(t, 2, len(store.runs))

	// the original run is left untouched
	assert.Equal(t, 1, len(run.Report.Errors))
}

func TestRedrive_NothingToDo(t *testing.T) {
	p := New(newRunner(), failingOn("x", new(atomic.Bool)), discardLogger())
	run, _ := p.Run(context.Background(), Request{Entries: interview(), TargetSpeaker: "Leopold Aschenbrenner"})

	same, err := p.Redrive(context.Background(), run)

	assert.Equal(t, nil, err)
	if same != run {
		t.Error("expected the same run back when nothing failed")
	}
}

func TestRedrive_LoadedRunWithoutChunks(t *testing.T) {
	p := New(newRunner(), failingOn("FAIL", new(atomic.Bool)), discardLogger())
	run, _ := p.Run(context.Background(), Request{Entries: interview(), TargetSpeaker: "Leopold Aschenbrenner"})
	run.Chunks = nil
	run.Results = nil

	_, err := p.Redrive(context.Background(), run)
	if !errors.Is(err, ErrNotRedrivable) {
		t.Fatalf("expected ErrNotRedrivable, got %v", err)
	}
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *mapCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

func (m *mapCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// schemaLLM answers with an unknown certainty level for chunks containing
// FAIL until healed is set.
type schemaLLM struct {
	healed    atomic.Bool
	failCalls atomic.Int32
}

func (l *schemaLLM) Prompt(_ context.Context, _, user string, _ int) (string, error) {
	if strings.Contains(user, "FAIL") {
		l.failCalls.Add(1)
		if !l.healed.Load() {
			return `[{"belief": "The labs are not ready.", "certainty": "certain"}]`, nil
		}
	}
	return `[{"belief": "AGI by 2027.", "certainty": "high"}]`, nil
}

func TestRedrive_CachedTransformRecoversSchemaFailure(t *testing.T) {
	llm := &schemaLLM{}
	store := &mapCache{data: map[string]string{}}
	fn := cache.Wrap(store, time.Hour, "test:", discardLogger(),
		extractor.New(llm, extractor.DefaultPrompt(), discardLogger()).Transform)
	p := New(newRunner(), fn, discardLogger())

	run, err := p.Run(context.Background(), Request{Entries: interview(), TargetSpeaker: "Leopold Aschenbrenner"})

	assert.Equal(t, nil, err)
	assert.Equal(t, int32(runner.DefaultPolicy().MaxAttempts), llm.failCalls.Load())
	assert.Equal(t, 1, len(run.Report.Errors))
	assert.Equal(t, aggregate.StageExtract, run.Report.Errors[0].Stage)
	assert.Equal(t, 1, len(store.data))

	llm.healed.Store(true)
	redone, err := p.Redrive(context.Background(), run)

	assert.Equal(t, nil, err)
	assert.Equal(t, int32(runner.DefaultPolicy().MaxAttempts+1), llm.failCalls.Load())
	assert.Equal(t, 0, len(redone.Report.Errors))
	assert.Equal(t, 2, len(redone.Report.Beliefs))
	assert.Equal(t, 2, len(store.data))
}
