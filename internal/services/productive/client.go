// Package productive provides a client for the Productive JSON:API used as
// the export source: paginated task and comment fetches, person lookups and
// attachment downloads, all behind the shared cooldown gate.
package productive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskferry/internal/common"
	"github.com/ternarybob/taskferry/internal/services/cooldown"
)

const (
	// DefaultBaseURL is the base URL for the Productive API.
	DefaultBaseURL = "https://api.productive.io/api/v2"

	// DefaultAppURL is the web app root used for task origin URLs.
	DefaultAppURL = "https://app.productive.io"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxAttempts is the number of attempts per page.
	DefaultMaxAttempts = 5

	// DefaultPageDelay is the pause between successful page fetches.
	DefaultPageDelay = 300 * time.Millisecond

	maxBodySize = 50 * 1024 * 1024
)

// ErrRetriesExhausted is returned when a page could not be fetched within the attempt budget
var ErrRetriesExhausted = errors.New("productive: retries exhausted")

// APIError represents a non-2xx reply from the Productive API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("productive API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Client is a Productive API client bound to one organization and token.
type Client struct {
	baseURL        string
	appURL         string
	token          string
	organizationID string
	httpClient     *http.Client
	logger         arbor.ILogger
	gate           *cooldown.Gate
	clock          common.Clock
	maxAttempts    int
	pageDelay      time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithAppURL sets the web app root used to build origin URLs.
func WithAppURL(appURL string) ClientOption {
	return func(c *Client) {
		c.appURL = strings.TrimRight(appURL, "/")
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

// WithGate sets the shared cooldown gate. Every client in a process should
// receive the same gate.
func WithGate(gate *cooldown.Gate) ClientOption {
	return func(c *Client) {
		c.gate = gate
	}
}

// WithClock sets the clock used for page pacing.
func WithClock(clock common.Clock) ClientOption {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithMaxAttempts sets the per-page attempt budget.
func WithMaxAttempts(attempts int) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// WithPageDelay sets the pause between successful pages.
func WithPageDelay(delay time.Duration) ClientOption {
	return func(c *Client) {
		c.pageDelay = delay
	}
}

// NewClient creates a new Productive API client.
func NewClient(token, organizationID string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        DefaultBaseURL,
		appURL:         DefaultAppURL,
		token:          token,
		organizationID: organizationID,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		maxAttempts: DefaultMaxAttempts,
		pageDelay:   DefaultPageDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.clock == nil {
		c.clock = common.SystemClock{}
	}
	if c.gate == nil {
		c.gate = cooldown.NewGate(cooldown.DefaultWindow, c.clock)
	}
	if c.logger == nil {
		c.logger = common.GetLogger()
	}

	return c
}

// Gate returns the cooldown gate this client reports errors to.
func (c *Client) Gate() *cooldown.Gate {
	return c.gate
}

// OriginURL returns the canonical web URL of a task. It is embedded in
// replicated issues and used to find them again.
func (c *Client) OriginURL(taskID string) string {
	return fmt.Sprintf("%s/%s/task/%s", c.appURL, c.organizationID, taskID)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-Auth-Token", c.token)
	req.Header.Set("X-Organization-Id", c.organizationID)
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Accept", "application/vnd.api+json")
}

// resolve turns a path (optionally with query) into an absolute URL.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// get performs a single GET request and decodes the JSON:API body into result.
// It does not consult the gate or mark errors; callers own the retry policy.
func (c *Client) get(ctx context.Context, reqURL string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	c.logger.Debug().
		Str("url", reqURL).
		Msg("Productive API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   redactQuery(reqURL),
		}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// isProductiveHost reports whether rawURL points at the Productive API or app
func (c *Client) isProductiveHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if base, err := url.Parse(c.baseURL); err == nil && strings.EqualFold(base.Hostname(), host) {
		return true
	}
	return host == "productive.io" || strings.HasSuffix(host, ".productive.io")
}

func redactQuery(rawURL string) string {
	if i := strings.Index(rawURL, "?"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
