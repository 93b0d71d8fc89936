package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/stacklok/catalog-feed-server/internal/feederr"
)

const (
	// UserAgent is sent with every request
	UserAgent = "catalog-feed-server/1.0"

	// DefaultTimeout bounds a single request
	DefaultTimeout = 30 * time.Second

	// DefaultMaxTries bounds the attempts of one call, including the first
	DefaultMaxTries = 4

	// DefaultRequestsPerSecond is the client-side rate limit
	DefaultRequestsPerSecond = 5

	// MaxResponseSize is the largest response body accepted
	MaxResponseSize = 10 * 1024 * 1024

	defaultInitialInterval = 500 * time.Millisecond
	feedFormat             = "rss"
)

// Options configure the HTTP client
type Options struct {
	BaseURL string

	// TokenSource authenticates requests. Nil sends unauthenticated requests.
	TokenSource oauth2.TokenSource

	Timeout           time.Duration
	MaxTries          uint
	InitialInterval   time.Duration
	RequestsPerSecond float64

	// Transport overrides the base round tripper
	Transport http.RoundTripper
}

// HTTPClient implements Client over the service's JSON API
type HTTPClient struct {
	baseURL         *url.URL
	http            *http.Client
	limiter         *rate.Limiter
	maxTries        uint
	initialInterval time.Duration
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the service at opts.BaseURL
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	if opts.BaseURL == "" {
		return nil, feederr.Configurationf("remote client", "base URL is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, feederr.Configurationf("remote client", "invalid base URL '%s'", opts.BaseURL)
	}

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if opts.TokenSource != nil {
		transport = &oauth2.Transport{Source: opts.TokenSource, Base: transport}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxTries := opts.MaxTries
	if maxTries == 0 {
		maxTries = DefaultMaxTries
	}
	interval := opts.InitialInterval
	if interval <= 0 {
		interval = defaultInitialInterval
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}

	return &HTTPClient{
		baseURL:         base,
		http:            &http.Client{Timeout: timeout, Transport: transport},
		limiter:         rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		maxTries:        maxTries,
		initialInterval: interval,
	}, nil
}

// StaticToken returns a token source for a fixed bearer token
func StaticToken(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

// GetMerchant implements Client
func (c *HTTPClient) GetMerchant(ctx context.Context, merchantID string) (*Merchant, error) {
	var merchant Merchant
	body, err := c.do(ctx, http.MethodGet, c.path("merchants", merchantID), nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &merchant); err != nil {
		return nil, fmt.Errorf("failed to decode merchant: %w", err)
	}
	return &merchant, nil
}

// CreateOrUpdateMerchant implements Client
func (c *HTTPClient) CreateOrUpdateMerchant(ctx context.Context, req MerchantRequest) (string, error) {
	body, err := c.do(ctx, http.MethodPost, c.path("merchants"), req)
	if err != nil {
		return "", err
	}
	return idFrom(body, "merchant")
}

// GetFeed implements Client
func (c *HTTPClient) GetFeed(ctx context.Context, merchantID, feedID string) (*Feed, error) {
	var feed Feed
	body, err := c.do(ctx, http.MethodGet, c.path("merchants", merchantID, "feeds", feedID), nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to decode feed: %w", err)
	}
	return &feed, nil
}

// AddFeed implements Client
func (c *HTTPClient) AddFeed(ctx context.Context, merchantID string, req FeedRequest) (string, error) {
	if req.Format == "" {
		req.Format = feedFormat
	}
	body, err := c.do(ctx, http.MethodPost, c.path("merchants", merchantID, "feeds"), req)
	if err != nil {
		return "", err
	}
	return idFrom(body, "feed")
}

// UpdateFeed implements Client
func (c *HTTPClient) UpdateFeed(ctx context.Context, merchantID, feedID string, req FeedRequest) (string, error) {
	if req.Format == "" {
		req.Format = feedFormat
	}
	body, err := c.do(ctx, http.MethodPatch, c.path("merchants", merchantID, "feeds", feedID), req)
	if err != nil {
		return "", err
	}
	if id, err := idFrom(body, "feed"); err == nil {
		return id, nil
	}
	// some deployments answer an update with an empty body
	return feedID, nil
}

func (c *HTTPClient) path(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL.JoinPath(escaped...).String()
}

// do sends one logical call, retrying transient failures with exponential backoff
func (c *HTTPClient) do(ctx context.Context, method, target string, payload any) ([]byte, error) {
	var reqBody []byte
	if payload != nil {
		var err error
		if reqBody, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.initialInterval

	attempt := 0
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		body, err := c.send(ctx, method, target, reqBody)
		if err == nil {
			return body, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsTransient() {
			return nil, backoff.Permanent(err)
		}
		slog.Debug("Remote call failed, retrying",
			"method", method,
			"url", target,
			"attempt", attempt,
			"error", err)
		return nil, err
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(c.maxTries))

	if err == nil {
		return body, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.IsTransient() {
		return nil, err
	}
	return nil, feederr.Transient(fmt.Sprintf("%s %s", method, target), err)
}

func (c *HTTPClient) send(ctx context.Context, method, target string, reqBody []byte) ([]byte, error) {
	var body io.Reader
	if reqBody != nil {
		body = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call remote service: %w", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength > MaxResponseSize {
		return nil, backoff.Permanent(fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, backoff.Permanent(fmt.Errorf("response from %s exceeds maximum allowed size of %d bytes", target, MaxResponseSize))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        target,
			Message:    errorMessage(data, resp.Status),
		}
	}
	return data, nil
}

// errorMessage extracts a readable message from an error body
func errorMessage(body []byte, fallback string) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error", "detail"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" && len(msg) <= 512 {
		return msg
	}
	return fallback
}

func idFrom(body []byte, what string) (string, error) {
	id := gjson.GetBytes(body, "id")
	if !id.Exists() || id.String() == "" {
		return "", fmt.Errorf("remote service returned no %s id", what)
	}
	return id.String(), nil
}
