// Package telemetry is the HTTP client for the queue collector that fronts
// the EMS servers. It only reads: queue snapshots, the configured server
// list, and per-server queue listings.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/queuewatch/internal/board"
)

var tracer = otel.Tracer("github.com/linnemanlabs/queuewatch/internal/telemetry")

const (
	// maxBodyBytes bounds how much of a collector response is read.
	maxBodyBytes = 32 << 20

	// httpTimeout is a backstop; callers bound each fetch with their context.
	httpTimeout = 30 * time.Second
)

// Client fetches telemetry from the collector at baseURL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a collector client. Requests are traced through otelhttp.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Queues fetches the fleet-wide queue snapshot.
func (c *Client) Queues(ctx context.Context) ([]board.RawQueueRecord, error) {
	body, err := c.get(ctx, "/api/queues")
	if err != nil {
		return nil, err
	}
	return DecodeQueues(body)
}

// ConfiguredServers fetches the list of servers the collector is configured
// to watch, with their last known reachability.
func (c *Client) ConfiguredServers(ctx context.Context) ([]board.ConfiguredServer, error) {
	body, err := c.get(ctx, "/api/configured-servers")
	if err != nil {
		return nil, err
	}
	return DecodeConfiguredServers(body)
}

// ServerQueues fetches every queue of one server.
func (c *Client) ServerQueues(ctx context.Context, serverName string) ([]board.RawQueueRecord, error) {
	body, err := c.get(ctx, "/api/queues/"+url.PathEscape(serverName))
	if err != nil {
		return nil, err
	}
	return DecodeQueues(body)
}

// get performs a GET against the collector. Every failure, including a
// context deadline, wraps board.ErrFetchFailed.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "telemetry.fetch", trace.WithAttributes(
		attribute.String("queuewatch.collector.path", path),
	))
	defer span.End()

	body, err := c.do(ctx, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("queuewatch.collector.body_bytes", len(body)))
	return body, nil
}

func (c *Client) do(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", board.ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // baseURL is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", board.ErrFetchFailed, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", board.ErrFetchFailed, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: collector returned %d for %s: %s", board.ErrFetchFailed, resp.StatusCode, path, truncate(string(body), 256))
	}
	return body, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
