// Package webhook is the client for the remote questionnaire service.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/containerd/errdefs"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fluia/leadmagnet/internal/domain"
	"github.com/fluia/leadmagnet/internal/metrics"
)

// maxResponseBytes bounds how much of a reply body is read.
const maxResponseBytes = 1 << 20

var (
	// ErrTransport covers network failures and non-2xx statuses.
	ErrTransport = fmt.Errorf("webhook transport failure: %w", errdefs.ErrUnavailable)
	// ErrTimeout is returned when one attempt exceeds the configured timeout.
	ErrTimeout = fmt.Errorf("webhook timed out: %w", context.DeadlineExceeded)
	// ErrProtocol covers well-formed HTTP replies with an unusable payload.
	ErrProtocol = fmt.Errorf("webhook protocol violation: %w", errdefs.ErrDataLoss)

	errMissingURL = errors.New("webhook url is required")
)

// Config holds configuration for the webhook client.
type Config struct {
	URL        string
	Timeout    time.Duration
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// DefaultConfig returns default timeouts; URL must still be set.
func DefaultConfig() Config {
	return Config{
		Timeout:    15 * time.Second,
		RetryDelay: time.Second,
	}
}

// Client posts answers to the remote service and normalizes its replies.
type Client struct {
	url        string
	http       *http.Client
	timeout    time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

// New creates a webhook client. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		return nil, errMissingURL
	}

	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return &Client{
		url:        cfg.URL,
		http:       httpClient,
		timeout:    cfg.Timeout,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}, nil
}

// Send delivers one answer. Transport failures are retried once after the
// retry delay; timeouts and protocol errors are returned immediately.
func (c *Client) Send(ctx context.Context, payload domain.WebhookPayload) (domain.Reply, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("encode webhook payload: %w", err)
	}

	reply, err := c.attempt(ctx, body)
	if err == nil || !errors.Is(err, ErrTransport) {
		return reply, err
	}

	c.logger.Warn("webhook attempt failed, retrying",
		"session_id", payload.SessionID,
		"step", payload.Step,
		"delay", c.retryDelay,
		"error", err,
	)
	metrics.IncWebhookRetry()

	timer := time.NewTimer(c.retryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return domain.Reply{}, ctx.Err()
	}

	return c.attempt(ctx, body)
}

func (c *Client) attempt(ctx context.Context, body []byte) (domain.Reply, error) {
	start := time.Now()
	reply, outcome, err := c.do(ctx, body)
	metrics.ObserveWebhook(outcome, time.Since(start))
	return reply, err
}

func (c *Client) do(ctx context.Context, body []byte) (domain.Reply, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return domain.Reply{}, "transport", fmt.Errorf("%w: build request: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		outcome, cerr := classify(ctx, err)
		return domain.Reply{}, outcome, cerr
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close webhook response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return domain.Reply{}, "status", fmt.Errorf("%w: http status %d", ErrTransport, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		outcome, cerr := classify(ctx, err)
		return domain.Reply{}, outcome, cerr
	}

	reply, err := Decode(data)
	if err != nil {
		c.logger.Warn("webhook reply rejected", "error", err, "body_bytes", len(data))
		return domain.Reply{}, "protocol", err
	}
	return reply, "ok", nil
}

// classify maps a transport-level error to its failure kind. A deadline on
// the attempt context is a timeout; cancellation of the caller is returned as is.
func classify(parent context.Context, err error) (string, error) {
	if parent.Err() != nil {
		return "canceled", parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return "transport", fmt.Errorf("%w: %w", ErrTransport, err)
}
