package slack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
)

const (
	DefaultMaxDownload = 20 << 20
	defaultMaxRetries  = 3
	maxBackoff         = 30 * time.Second
)

// ErrTooLarge is returned when a download exceeds the configured cap.
var ErrTooLarge = errors.New("file exceeds download limit")

// APIError is a Web API reply with "ok": false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// Client wraps the slack-go client with retries on rate limits and 5xx
// replies, a download size cap, and structured logging.
type Client struct {
	api         *slackapi.Client
	httpClient  *http.Client
	maxDownload int64
	maxRetries  int
	baseDelay   time.Duration
	logger      *slog.Logger

	apiURL string
}

// Option configures a Client.
type Option func(*Client)

// WithAPIBase points the client at another Web API root, for tests.
func WithAPIBase(u string) Option {
	return func(c *Client) { c.apiURL = strings.TrimRight(u, "/") + "/" }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithMaxDownload(n int64) Option {
	return func(c *Client) { c.maxDownload = n }
}

// WithRetry sets the retry count and the first backoff delay.
func WithRetry(max int, base time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = max
		c.baseDelay = base
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client authenticating with a bot token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxDownload: DefaultMaxDownload,
		maxRetries:  defaultMaxRetries,
		baseDelay:   time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	apiOpts := []slackapi.Option{slackapi.OptionHTTPClient(c.httpClient)}
	if c.apiURL != "" {
		apiOpts = append(apiOpts, slackapi.OptionAPIURL(c.apiURL))
	}
	c.api = slackapi.New(token, apiOpts...)
	return c
}

// PostMessage calls chat.postMessage. A reply with "ok": false is an *APIError.
func (c *Client) PostMessage(ctx context.Context, msg PostMessage) error {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if len(msg.Blocks) > 0 {
		opts = append(opts, slackapi.MsgOptionBlocks(msg.Blocks...))
	}
	err := c.retry(ctx, "chat.postMessage", func() error {
		_, _, err := c.api.PostMessageContext(ctx, msg.Channel, opts...)
		return err
	})
	if err != nil {
		return fmt.Errorf("chat.postMessage: %w", asAPIError("chat.postMessage", err))
	}
	return nil
}

// Respond posts msg to an interaction response URL. Those URLs carry their
// own authorization, so no token is sent.
func (c *Client) Respond(ctx context.Context, responseURL string, msg ResponseMessage) error {
	if responseURL == "" {
		return errors.New("empty response_url")
	}
	wm := msg.webhook()
	err := c.retry(ctx, "response_url", func() error {
		return slackapi.PostWebhookCustomHTTPContext(ctx, responseURL, c.httpClient, wm)
	})
	if err != nil {
		return fmt.Errorf("post response: %w", err)
	}
	return nil
}

// Download fetches a private file with the bot token.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("attachment has no download url")
	}
	var buf bytes.Buffer
	err := c.retry(ctx, "files.download", func() error {
		buf.Reset()
		return c.api.GetFileContext(ctx, url, &capWriter{w: &buf, max: c.maxDownload})
	})
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if isHTML(buf.Bytes()) {
		// Slack answers unauthorized file downloads with its login page.
		return nil, errors.New("download file: html login page instead of file")
	}
	return buf.Bytes(), nil
}

// retry runs call until it succeeds, fails with a non-retryable error, or
// the attempts run out.
func (c *Client) retry(ctx context.Context, op string, call func() error) error {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoffDelay(attempt, err)
			c.logger.WarnContext(ctx, "Retrying Slack request", "op", op, "attempt", attempt, "wait", wait, "error", err)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err = call(); err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	var rl *slackapi.RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	return statusCode(err) >= 500
}

func statusCode(err error) int {
	var sc slackapi.StatusCodeError
	if errors.As(err, &sc) {
		return sc.Code
	}
	var psc *slackapi.StatusCodeError
	if errors.As(err, &psc) {
		return psc.Code
	}
	return 0
}

// backoffDelay honors Retry-After on rate limits and otherwise doubles the
// base delay per attempt, capped at maxBackoff.
func (c *Client) backoffDelay(attempt int, last error) time.Duration {
	var rl *slackapi.RateLimitedError
	if errors.As(last, &rl) && rl.RetryAfter > 0 {
		return min(rl.RetryAfter, maxBackoff)
	}
	d := c.baseDelay << (attempt - 1)
	if d > maxBackoff || d < 0 {
		d = maxBackoff
	}
	return d
}

// asAPIError turns an "ok": false reply into an *APIError, leaving transport
// and status errors as they are.
func asAPIError(method string, err error) error {
	var se slackapi.SlackErrorResponse
	if errors.As(err, &se) {
		return &APIError{Method: method, Code: se.Err}
	}
	return err
}

// capWriter fails once more than max bytes are written.
type capWriter struct {
	w   *bytes.Buffer
	max int64
}

func (c *capWriter) Write(p []byte) (int, error) {
	if int64(c.w.Len()+len(p)) > c.max {
		return 0, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.max)
	}
	return c.w.Write(p)
}

func isHTML(b []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(b[:min(len(b), 64)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}
