// Package linear replicates exported tasks into Linear through its GraphQL API.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/taskferry/internal/common"
)

const (
	// DefaultAPIURL is the Linear GraphQL endpoint.
	DefaultAPIURL = "https://api.linear.app/graphql"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default outbound pace (requests per second).
	DefaultRateLimit = 5

	// DefaultRateLimitBackoff is used when a rate-limited reply carries no reset time.
	DefaultRateLimitBackoff = 60 * time.Second

	rateLimitResetHeader = "X-RateLimit-Requests-Reset"
	rateLimitedCode      = "RATELIMITED"
)

// ErrRateLimited is returned when a request is still rate limited after one retry
var ErrRateLimited = errors.New("linear: rate limited")

// APIError represents a failed GraphQL request, either at HTTP level or
// through the errors array of the response.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("linear API error: %s (status %d, code %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("linear API error: %s (status %d)", e.Message, e.StatusCode)
}

// RateLimitError carries the wait derived from the reset header
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
}

// UploadTarget is a signed upload slot returned by the fileUpload mutation
type UploadTarget struct {
	UploadURL string
	AssetURL  string
	Headers   map[string]string
}

// Client is a Linear GraphQL client.
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
	clock      common.Clock
	backoff    time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithAPIURL sets a custom GraphQL endpoint.
func WithAPIURL(apiURL string) ClientOption {
	return func(c *Client) {
		c.apiURL = apiURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the outbound request rate. Zero or less disables pacing.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithClock sets the clock used for rate-limit sleeps.
func WithClock(clock common.Clock) ClientOption {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithRateLimitBackoff sets the default wait after a rate-limit reply without reset time.
func WithRateLimitBackoff(backoff time.Duration) ClientOption {
	return func(c *Client) {
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewClient creates a new Linear API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiURL: DefaultAPIURL,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		backoff: DefaultRateLimitBackoff,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.clock == nil {
		c.clock = common.SystemClock{}
	}
	if c.logger == nil {
		c.logger = common.GetLogger()
	}

	return c
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// Do executes a GraphQL operation and decodes its data object into result.
// A rate-limited reply is retried exactly once after the reported reset
// time; a second rate-limited reply returns an error wrapping ErrRateLimited.
func (c *Client) Do(ctx context.Context, query string, variables map[string]interface{}, result interface{}) error {
	err := c.do(ctx, query, variables, result)

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		return err
	}

	c.logger.Warn().
		Dur("retry_after", rl.RetryAfter).
		Msg("Linear rate limit hit, waiting before retry")

	if err := c.clock.Sleep(ctx, rl.RetryAfter); err != nil {
		return err
	}

	err = c.do(ctx, query, variables, result)
	if errors.As(err, &rl) {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, query string, variables map[string]interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: c.retryAfter(resp.Header)}
	}

	var gql graphQLResponse
	if err := json.Unmarshal(body, &gql); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(gql.Errors) > 0 {
		for _, e := range gql.Errors {
			if e.Extensions.Code == rateLimitedCode {
				return &RateLimitError{RetryAfter: c.retryAfter(resp.Header)}
			}
		}
		// Aliased mutations can partly succeed; keep whatever data came back
		if result != nil && hasData(gql.Data) {
			_ = json.Unmarshal(gql.Data, result)
		}
		messages := make([]string, 0, len(gql.Errors))
		for _, e := range gql.Errors {
			messages = append(messages, e.Message)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.Join(messages, "; "),
			Code:       gql.Errors[0].Extensions.Code,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	if result != nil && hasData(gql.Data) {
		if err := json.Unmarshal(gql.Data, result); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
	}

	return nil
}

func hasData(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// retryAfter derives the wait from the reset header (epoch milliseconds)
func (c *Client) retryAfter(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get(rateLimitResetHeader))
	if raw == "" {
		return c.backoff
	}
	resetMs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return c.backoff
	}
	wait := time.UnixMilli(resetMs).Sub(c.clock.Now())
	if wait <= 0 {
		return c.backoff
	}
	return wait
}

// Upload PUTs a binary payload to a signed upload slot
func (c *Client) Upload(ctx context.Context, target UploadTarget, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.UploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "public, max-age=31536000")
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return nil
}
