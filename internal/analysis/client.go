// Package analysis talks to the remote description service.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/user/lumos/internal/entity"
	"github.com/user/lumos/pkg/logger"
)

const analyzePath = "/api/analyze"

// Options bound a single Analyze call.
type Options struct {
	// Timeout applies to each attempt.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	// RetryDelay is multiplied by the attempt number before each retry.
	RetryDelay time.Duration
}

// DefaultOptions match the relay's production settings.
var DefaultOptions = Options{
	Timeout:    12 * time.Second,
	MaxRetries: 2,
	RetryDelay: 400 * time.Millisecond,
}

// Analyzer produces a description for an image.
type Analyzer interface {
	Analyze(ctx context.Context, req entity.AnalyzeRequest, opts Options) (*entity.AnalyzeResult, error)
}

type analyzeBody struct {
	ImageURL string `json:"image_url"`
	PageURL  string `json:"page_url"`
}

type analyzeResponse struct {
	Alt *string `json:"alt"`
}

// Client calls POST {base}/api/analyze. It performs one HTTP call at a
// time per Analyze invocation.
type Client struct {
	http    *resty.Client
	logger  *zap.Logger
	sleeper func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient sends requests through hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			base := c.http.BaseURL
			c.http = resty.NewWithClient(hc).SetBaseURL(base)
		}
	}
}

// WithSleeper overrides how retry delays are waited (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger.OrNop(l)
	}
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	c := &Client{
		http:   resty.New().SetBaseURL(baseURL),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.SetHeader("Accept", "application/json").SetLogger(c.logger.Sugar())
	return c, nil
}

// Analyze requests a description, retrying transient failures with a
// linearly growing delay. The last error is returned when attempts run
// out or a failure is terminal.
func (c *Client) Analyze(ctx context.Context, req entity.AnalyzeRequest, opts Options) (*entity.AnalyzeResult, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	start := time.Now()

	for attempt := 1; ; attempt++ {
		alt, err := c.attempt(ctx, req, opts.Timeout)
		if err == nil {
			return &entity.AnalyzeResult{
				AltText:   alt,
				Source:    entity.SourceAPI,
				LatencyMs: time.Since(start).Milliseconds(),
			}, nil
		}

		var ce *ClientError
		if !errors.As(err, &ce) {
			return nil, err
		}
		ce.Attempts = attempt
		if !ce.Retryable || attempt > opts.MaxRetries {
			return nil, ce
		}

		delay := opts.RetryDelay * time.Duration(attempt)
		c.logger.Warn("Analysis attempt failed, retrying",
			zap.String("image_url", req.ImageURL),
			zap.String("code", string(ce.Code)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("analysis retry: %w", err)
		}
	}
}

func (c *Client) attempt(ctx context.Context, req entity.AnalyzeRequest, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := c.http.R().
		SetContext(actx).
		SetHeader("Content-Type", "application/json").
		SetBody(analyzeBody{ImageURL: req.ImageURL, PageURL: req.PageURL}).
		Post(analyzePath)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return "", newError(entity.CodeTimeout, 0, fmt.Sprintf("no response within %s", timeout), err)
		}
		return "", newError(entity.CodeNetworkError, 0, "request failed", err)
	}

	status := res.StatusCode()
	switch {
	case status >= http.StatusInternalServerError:
		return "", newError(entity.CodeServerError, status, "server error", nil)
	case status < 200 || status >= 300:
		return "", newError(entity.CodeUnknownError, status, "unexpected status", nil)
	}

	var body analyzeResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		return "", newError(entity.CodeUnknownError, status, "malformed response body", err)
	}
	if body.Alt == nil || strings.TrimSpace(*body.Alt) == "" {
		return "", newError(entity.CodeUnknownError, status, "response has no alt text", nil)
	}
	return strings.TrimSpace(*body.Alt), nil
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
