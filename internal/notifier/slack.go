package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/retry"
)

// Ensure SlackNotifier implements model.Notifier.
var _ model.Notifier = (*SlackNotifier)(nil)

// maxRecordBlocks keeps a run summary under Slack's 50-block message limit.
const maxRecordBlocks = 45

// SlackNotifier posts run summaries to a Slack channel via Incoming Webhooks.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackNotifier returns a notifier that posts one message per run.
func NewSlackNotifier(webhookURL string, httpClient *http.Client, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Notify sends the run summary as a single Block Kit message.
func (s *SlackNotifier) Notify(ctx context.Context, records []model.ExecutionRecord) error {
	if len(records) == 0 {
		return nil
	}

	body, err := json.Marshal(buildPayload(records))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	status, retryAfter, err := s.post(ctx, body)
	if err != nil {
		return err
	}

	if status == http.StatusTooManyRequests {
		s.logger.Warn("slack rate limited, retrying", "retry_after", retryAfter)
		if err := retry.Sleep(ctx, retryAfter); err != nil {
			return err
		}
		status, _, err = s.post(ctx, body)
		if err != nil {
			return fmt.Errorf("post to slack (retry): %w", err)
		}
		if status != http.StatusOK {
			return fmt.Errorf("slack returned %d on retry", status)
		}
		s.logger.Info("slack summary sent", "executions", len(records), "retried", true)
		return nil
	}

	if status != http.StatusOK {
		return fmt.Errorf("slack returned %d", status)
	}
	s.logger.Info("slack summary sent", "executions", len(records))
	return nil
}

func (s *SlackNotifier) post(ctx context.Context, body []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
	if secs <= 0 {
		secs = 1
	}
	return resp.StatusCode, time.Duration(secs) * time.Second, nil
}

// Block Kit payload types.

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendTestMessage sends a sample run summary to verify the integration works.
func SendTestMessage(ctx context.Context, n model.Notifier) error {
	now := time.Now()
	return n.Notify(ctx, []model.ExecutionRecord{{
		ID:          "test-001",
		Workflow:    "test",
		Source:      model.SourceBNPPF,
		Status:      model.StatusSucceeded,
		StartedAt:   now.Add(-2 * time.Second),
		FinishedAt:  now,
		Listings:    1,
		Persistence: model.PersistenceReport{Inserted: 1},
	}})
}

func statusIcon(s model.ExecutionStatus) string {
	switch s {
	case model.StatusSucceeded:
		return ":white_check_mark:"
	case model.StatusPartial:
		return ":warning:"
	case model.StatusFailed:
		return ":x:"
	default:
		return ":hourglass:"
	}
}

func buildPayload(records []model.ExecutionRecord) slackPayload {
	counts := make(map[model.ExecutionStatus]int)
	var inserted int
	for _, r := range records {
		counts[r.Status]++
		inserted += r.Persistence.Inserted
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("jobflow run: %d new listing(s)", inserted)},
		},
		{
			Type: "context",
			Elements: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf(
				"%d succeeded, %d partial, %d failed, %d pending",
				counts[model.StatusSucceeded], counts[model.StatusPartial],
				counts[model.StatusFailed], counts[model.StatusPending],
			)}},
		},
	}

	for i, r := range records {
		if i == maxRecordBlocks {
			blocks = append(blocks, slackBlock{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("_and %d more_", len(records)-i)},
			})
			break
		}
		block := slackBlock{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s %s", r.Workflow, statusIcon(r.Status), r.Status)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Listings:* %d\n*New:* %d  *Duplicates:* %d",
					r.Listings, r.Persistence.Inserted, r.Persistence.SkippedDuplicate)},
			},
		}
		if r.Status != model.StatusSucceeded && r.Error != "" {
			detail := r.Error
			if r.FailedStep != "" {
				detail = fmt.Sprintf("`%s` after %d attempt(s): %s", r.FailedStep, r.Attempts, r.Error)
			}
			block.Text = &slackText{Type: "mrkdwn", Text: truncate(detail, 500)}
		}
		blocks = append(blocks, block)
	}

	blocks = append(blocks, slackBlock{Type: "divider"})
	return slackPayload{Blocks: blocks}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
