// Package tavily provides a client for the Tavily extract API.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/distill-cli/internal/resilience"
)

const defaultBaseURL = "https://api.tavily.com"

// DefaultFatalStatusCodes are raised without consuming a retry.
var DefaultFatalStatusCodes = []int{400, 401, 403, 432, 433, 500}

// Client defines the Tavily API operations.
type Client interface {
	// Extract fetches the given URLs and returns their content.
	Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error)
}

// ExtractRequest is the body for POST /extract.
type ExtractRequest struct {
	URLs         []string `json:"urls"`
	ExtractDepth string   `json:"extract_depth,omitempty"`
	Format       string   `json:"format,omitempty"`
}

// ExtractResponse is the response from POST /extract.
type ExtractResponse struct {
	Results       []Result       `json:"results"`
	FailedResults []FailedResult `json:"failed_results"`
	ResponseTime  float64        `json:"response_time"`
	RequestID     string         `json:"request_id"`
}

// Result is one successfully extracted URL.
type Result struct {
	URL        string   `json:"url"`
	RawContent string   `json:"raw_content"`
	Title      string   `json:"title,omitempty"`
	Images     []string `json:"images,omitempty"`
	Favicon    string   `json:"favicon,omitempty"`
}

// FailedResult is one URL Tavily could not extract.
type FailedResult struct {
	URL   string `json:"url"`
	Error Reason `json:"error"`
}

// Reason is a failure reason. Tavily sends either a string or an object.
type Reason string

// UnmarshalJSON accepts a JSON string or any other JSON value, which is kept
// in its compact encoded form.
func (r *Reason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = Reason(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return eris.Wrap(err, "tavily: decode failure reason")
	}
	*r = Reason(buf.String())
	return nil
}

// APIError is returned when Tavily responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tavily: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// ErrRateLimitExhausted is returned once the 429 retry budget is spent.
var ErrRateLimitExhausted = eris.New("rate limit retries exhausted")

// RetryPolicy holds the separate budgets for timeouts and rate limits.
type RetryPolicy struct {
	// Timeout covers timeouts, network failures and unlisted statuses.
	Timeout resilience.Policy
	// RateLimit covers HTTP 429.
	RateLimit resilience.Policy
	// FatalStatusCodes are raised immediately.
	FatalStatusCodes []int
}

// DefaultRetryPolicy mirrors Tavily's documented limits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:          resilience.Policy{Retries: 2, Delay: 5 * time.Second, Backoff: resilience.BackoffFixed},
		RateLimit:        resilience.Policy{Retries: 3, Delay: 60 * time.Second, Backoff: resilience.BackoffFixed},
		FatalStatusCodes: DefaultFatalStatusCodes,
	}
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryPolicy overrides the retry budgets.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

// WithAttemptTimeout bounds each HTTP attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.attemptTimeout = d
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey         string
	baseURL        string
	http           *http.Client
	retry          RetryPolicy
	attemptTimeout time.Duration
}

// NewClient creates a new Tavily client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:          DefaultRetryPolicy(),
		attemptTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	if req.Format == "" {
		req.Format = "markdown"
	}
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "tavily: marshal request")
	}

	cfg := resilience.RetryConfig{
		Budgets: map[resilience.Class]resilience.Policy{
			resilience.ClassTransient:   c.retry.Timeout,
			resilience.ClassRateLimited: c.retry.RateLimit,
		},
		Classify: c.classify,
		OnRetry:  resilience.RetryLogger("tavily", "extract"),
		OnExhausted: func(class resilience.Class, err error) error {
			if class == resilience.ClassRateLimited {
				return eris.Wrap(ErrRateLimitExhausted, "tavily")
			}
			return err
		},
	}

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*ExtractResponse, error) {
		return c.attempt(ctx, buf)
	})
	if err != nil {
		return nil, eris.Wrap(err, "tavily: extract")
	}
	return resp, nil
}

// classify applies the fatal list first, then splits 429 from everything
// else, which shares the timeout budget.
func (c *httpClient) classify(err error) resilience.Class {
	status := resilience.StatusOf(err)
	switch {
	case status != 0 && slices.Contains(c.retry.FatalStatusCodes, status):
		return resilience.ClassFatal
	case status == http.StatusTooManyRequests:
		return resilience.ClassRateLimited
	default:
		return resilience.ClassTransient
	}
}

func (c *httpClient) attempt(ctx context.Context, body []byte) (*ExtractResponse, error) {
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &resilience.TimeoutError{After: c.attemptTimeout}
		}
		return nil, eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	var out ExtractResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "decode response")
	}
	return &out, nil
}
