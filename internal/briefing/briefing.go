// Package briefing writes a short shift-handover summary of the attention
// list using Claude.
package briefing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/queuewatch/internal/board"
)

var tracer = otel.Tracer("github.com/linnemanlabs/queuewatch/internal/briefing")

const (
	// ResponseTokens caps the length of one briefing.
	ResponseTokens = 512
	httpTimeout    = 60 * time.Second
)

const systemPrompt = `You are the shift lead for a team operating TIBCO EMS message servers.
Write a briefing for the operator taking over the queue board.
Be concrete: name servers and queues, give message counts, and say what to check first.
Use at most six short lines of plain text. No greetings, no markdown headings.`

// ErrEmptyResponse means the model returned no text.
var ErrEmptyResponse = errors.New("briefing: empty model response")

// messenger is the part of the SDK message service the briefer calls.
type messenger interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Briefer summarises the attention list with a Claude model.
type Briefer struct {
	messages messenger
	model    string
	logger   log.Logger
}

// New creates a Briefer. Requests go through an otelhttp transport.
func New(apiKey, model string, logger log.Logger) *Briefer {
	if logger == nil {
		logger = log.Nop()
	}
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	)
	return &Briefer{
		messages: &client.Messages,
		model:    model,
		logger:   logger,
	}
}

// Brief returns a plain-text briefing for page.
func (b *Briefer) Brief(ctx context.Context, page board.AttentionPage, counts board.Counts) (string, error) {
	ctx, span := tracer.Start(ctx, "briefing.generate", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "chat"),
		attribute.String("gen_ai.request.model", b.model),
		attribute.Int("queuewatch.attention.total", page.Total),
	))
	defer span.End()

	start := time.Now()
	msg, err := b.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: ResponseTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(page, counts))),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("briefing: claude request: %w", err)
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", string(msg.Model)),
		attribute.Int64("gen_ai.usage.input_tokens", msg.Usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", msg.Usage.OutputTokens),
	)

	text := textOf(msg)
	if text == "" {
		span.SetStatus(codes.Error, ErrEmptyResponse.Error())
		return "", ErrEmptyResponse
	}

	b.logger.Info(ctx, "shift briefing written",
		"model", b.model,
		"attention", page.Total,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"duration", time.Since(start).Seconds(),
	)
	return text, nil
}

// buildPrompt renders the board state the model is asked to summarise.
func buildPrompt(page board.AttentionPage, counts board.Counts) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Board totals: %d queues, %d critical, %d warning, %d ok.\n",
		counts.Total, counts.Critical, counts.Warning, counts.OK)
	fmt.Fprintf(&sb, "Unacknowledged queues needing attention: %d.\n\n", page.Total)

	for _, q := range page.Queues {
		fmt.Fprintf(&sb, "- [%s] %s: %d messages", q.Severity, q.DisplayName, q.MessageCount)
		if !q.LastEventAt.IsZero() {
			fmt.Fprintf(&sb, ", last change %s", q.LastEventAt.UTC().Format(time.RFC3339))
		}
		if len(q.Events) > 0 {
			fmt.Fprintf(&sb, ", latest event %q", q.Events[0].Message)
		}
		sb.WriteByte('\n')
	}
	if page.More > 0 {
		fmt.Fprintf(&sb, "- ...and %d more not listed\n", page.More)
	}
	return sb.String()
}

func textOf(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, strings.TrimSpace(block.Text))
		}
	}
	return strings.Join(parts, "\n")
}
