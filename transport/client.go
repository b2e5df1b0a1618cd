package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"escrowkit/observability/metrics"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20

	HeaderRequestID      = "X-Request-Id"
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

// Poster is the contract the service layer depends on.
type Poster interface {
	Post(ctx context.Context, path string, body, out any) error
}

// TokenSource supplies the bearer token for the signed-in session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Options configures a Client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Tokens        TokenSource
	// HTTPClient overrides the underlying client. Its transport is still
	// wrapped for tracing.
	HTTPClient *http.Client
	Metrics    *metrics.ClientMetrics
	Logger     *slog.Logger
}

// Client is the shared JSON-over-HTTP client used by every backend call.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	tokens  TokenSource
	metrics *metrics.ClientMetrics
	logger  *slog.Logger
}

// New validates the options and builds a client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("transport: base url required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("transport: invalid base url %q", raw)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	inner := http.DefaultTransport
	if opts.HTTPClient != nil && opts.HTTPClient.Transport != nil {
		inner = opts.HTTPClient.Transport
	}
	limit := rate.Inf
	burst := opts.Burst
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base: base,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(inner),
		},
		limiter: rate.NewLimiter(limit, burst),
		tokens:  opts.Tokens,
		metrics: opts.Metrics,
		logger:  logger.With(slog.String("component", "transport")),
	}, nil
}

type idempotencyKey struct{}

// WithIdempotencyKey pins the idempotency key used by the next Post on ctx.
// Without it every Post gets a fresh key.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// Post sends body as JSON to path and decodes a 2xx response into out, which
// may be nil. Non-2xx responses come back as *APIError.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	if !c.limiter.Allow() {
		c.metrics.RecordThrottle(path)
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limited: %w", path, err)
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", path, err)
	}
	endpoint := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())
	key, _ := ctx.Value(idempotencyKey{}).(string)
	if key == "" {
		key = uuid.NewString()
	}
	req.Header.Set(HeaderIdempotencyKey, key)
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%s: auth token: %w", path, err)
		}
		if token = strings.TrimSpace(token); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(path, 0, time.Since(start))
		c.logger.DebugContext(ctx, "request failed", slog.String("path", path), slog.Any("error", err))
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.metrics.ObserveRequest(path, resp.StatusCode, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(path, resp.StatusCode, raw)
		c.logger.DebugContext(ctx, "request rejected",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("reason", apiErr.Message))
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}
