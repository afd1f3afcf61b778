package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/doxa/internal/aggregate"
	"github.com/MikeSquared-Agency/doxa/internal/pipeline"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// maxListedBeliefs caps how many beliefs are quoted in the summary message.
const maxListedBeliefs = 10

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostRunSummary posts the run summary to the channel. When chunks failed, the
// failures are listed in a thread reply under the summary.
func (p *Poster) PostRunSummary(ctx context.Context, run *pipeline.Run) error {
	text := formatRunSummary(run)

	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "Run `" + run.ID.String() + "`",
					},
				},
			},
		},
	})
	if err != nil {
		return err
	}
	p.logger.Info("posted run summary to slack", "ts", ts, "run_id", run.ID)

	if len(run.Report.Errors) > 0 {
		if err := p.PostThread(ctx, ts, formatFailures(run.Report.Errors)); err != nil {
			return fmt.Errorf("post failures thread: %w", err)
		}
	}
	return nil
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatRunSummary(run *pipeline.Run) string {
	var sb strings.Builder
	report := run.Report

	source := run.Source
	if source == "" {
		source = "transcript"
	}
	fmt.Fprintf(&sb, "*Beliefs of %s* (%s)\n", run.TargetSpeaker, source)
	fmt.Fprintf(&sb, "*Chunks:* %d | *Beliefs:* %d | *Failed chunks:* %d\n\n",
		report.Chunks, len(report.Beliefs), len(report.Errors))

	if len(report.Beliefs) == 0 {
		sb.WriteString("_No beliefs extracted from this transcript._")
		return sb.String()
	}

	counts := map[aggregate.Certainty]int{}
	for _, it := range report.Beliefs {
		counts[it.Belief.Certainty]++
	}
	fmt.Fprintf(&sb, "Certainty: high %d, medium %d, low %d\n\n",
		counts[aggregate.CertaintyHigh], counts[aggregate.CertaintyMedium], counts[aggregate.CertaintyLow])

	for i, it := range report.Beliefs {
		if i == maxListedBeliefs {
			fmt.Fprintf(&sb, "_…and %d more_\n", len(report.Beliefs)-maxListedBeliefs)
			break
		}
		fmt.Fprintf(&sb, "%d. %s _(%s, chunk %d)_\n", i+1, it.Belief.Belief, it.Belief.Certainty, it.ChunkIndex+1)
	}
	return sb.String()
}

func formatFailures(errs []aggregate.ChunkError) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%d chunk(s) failed:*\n", len(errs))
	for _, e := range errs {
		fmt.Fprintf(&sb, "• chunk %d [%s]: %s\n", e.ChunkIndex+1, e.Stage, e.Message)
	}
	return sb.String()
}
