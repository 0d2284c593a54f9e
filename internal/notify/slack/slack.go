// Package slack posts queue escalations to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/queuewatch/internal/board"
)

const (
	// maxListed caps the queues listed in one message; the rest are counted.
	maxListed   = 20
	httpTimeout = 10 * time.Second
)

// Notifier sends escalations to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
	now        func() time.Time
}

// New creates a new Slack notifier. If webhookURL is empty, sends are no-ops.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
		now:        time.Now,
	}
}

// NotifyEscalations posts one message listing queues that just became
// critical. It returns nil without posting when no webhook is configured or
// queues is empty.
func (n *Notifier) NotifyEscalations(ctx context.Context, queues []board.Queue) error {
	if n.webhookURL == "" || len(queues) == 0 {
		return nil
	}

	body, err := json.Marshal(buildMessage(queues, n.now()))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "escalation posted to slack", "queues", len(queues))
	return nil
}

func buildMessage(queues []board.Queue, now time.Time) map[string]any {
	return map[string]any{
		"text": summary(queues),
		"blocks": []map[string]any{
			headerBlock(queues),
			{"type": "divider"},
			queuesBlock(queues),
			{"type": "divider"},
			contextBlock(now),
		},
	}
}

// summary is the notification fallback text.
func summary(queues []board.Queue) string {
	if len(queues) == 1 {
		return fmt.Sprintf("%s is critical", queues[0].DisplayName)
	}
	return fmt.Sprintf("%d queues became critical", len(queues))
}

func headerBlock(queues []board.Queue) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": "\U0001f534 " + summary(queues), // red circle
		},
	}
}

func queuesBlock(queues []board.Queue) map[string]any {
	var b strings.Builder
	for i, q := range queues {
		if i == maxListed {
			fmt.Fprintf(&b, "_...and %d more_\n", len(queues)-maxListed)
			break
		}
		fmt.Fprintf(&b, "• *%s* on `%s`: %d messages", q.QueueName, q.ServerName, q.MessageCount)
		if q.Status != "" {
			fmt.Fprintf(&b, " (reported %s)", q.Status)
		}
		b.WriteByte('\n')
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": strings.TrimRight(b.String(), "\n"),
		},
	}
}

func contextBlock(now time.Time) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("queuewatch • escalation • %s", now.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}
