// Package client provides a Go client for a remote DataExtract
// instance over its HTTP API.
//
// Usage:
//
//	c := client.New("https://extract.example.com",
//	    client.WithAPIKey("sk_..."),
//	)
//
//	// Upload a document.
//	res, err := c.Extract(ctx, "report.pdf", content, nil)
//	if res.Cached {
//	    use(res.Result)
//	}
//
//	// Wait for the queued job to finish.
//	j, err := c.Await(ctx, res.Job.ID, 2*time.Minute)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/ConvoSphere/DataExtract/backoff"
	"github.com/ConvoSphere/DataExtract/extractor"
	"github.com/ConvoSphere/DataExtract/id"
	"github.com/ConvoSphere/DataExtract/job"
)

// Client talks to a remote DataExtract server.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *slog.Logger

	// Retry policy for idempotent reads.
	maxRetries int
	retryDelay backoff.Strategy
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpc:      &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		maxRetries: 3,
		retryDelay: backoff.NewExponentialWithJitter(200*time.Millisecond, 5*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: server returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may be retried.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ExtractResponse is the outcome of an upload: either an inline cached
// result or a queued job to poll.
type ExtractResponse struct {
	Cached bool              `json:"cached"`
	Job    *job.Job          `json:"job,omitempty"`
	Result *extractor.Result `json:"result,omitempty"`
}

// ExtractOptions tune one upload.
type ExtractOptions struct {
	MimeType string
	Options  extractor.Options
	Priority job.Priority
	Timeout  time.Duration
}

// Extract uploads a document for extraction. A cache hit returns the
// result inline; otherwise the response carries the queued job.
func (c *Client) Extract(ctx context.Context, filename string, content []byte, opts *ExtractOptions) (*ExtractResponse, error) {
	if opts == nil {
		opts = &ExtractOptions{}
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("client: build upload: %w", err)
	}
	if _, err := fw.Write(content); err != nil {
		return nil, fmt.Errorf("client: build upload: %w", err)
	}
	if opts.Options != nil {
		raw, err := json.Marshal(opts.Options)
		if err != nil {
			return nil, fmt.Errorf("client: encode options: %w", err)
		}
		if err := w.WriteField("options", string(raw)); err != nil {
			return nil, fmt.Errorf("client: build upload: %w", err)
		}
	}
	if opts.Priority != "" {
		if err := w.WriteField("priority", string(opts.Priority)); err != nil {
			return nil, fmt.Errorf("client: build upload: %w", err)
		}
	}
	if opts.Timeout > 0 {
		if err := w.WriteField("timeout_ms", strconv.FormatInt(opts.Timeout.Milliseconds(), 10)); err != nil {
			return nil, fmt.Errorf("client: build upload: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("client: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", &body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out ExtractResponse
	// Uploads are not retried: a cache miss enqueues a job, so a
	// replayed request could double-charge the rate limit.
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Job returns the current record for a job.
func (c *Client) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.getJSON(ctx, "/v1/jobs/"+jobID.String(), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Result returns the extraction result for a completed job.
func (c *Client) Result(ctx context.Context, jobID id.JobID) (*extractor.Result, error) {
	var res extractor.Result
	if err := c.getJSON(ctx, "/v1/jobs/"+jobID.String()+"/result", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Cancel requests cancellation of a job. It returns an *APIError with
// StatusCode 409 when the job is already terminal.
func (c *Client) Cancel(ctx context.Context, jobID id.JobID) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/jobs/"+jobID.String(), nil)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	return c.do(req, nil)
}

// Await polls the job until it reaches a terminal state or the timeout
// elapses.
func (c *Client) Await(ctx context.Context, jobID id.JobID, timeout time.Duration) (*job.Job, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	for {
		j, err := c.Job(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if j.Status.Terminal() {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("client: await job %s: %w", jobID, ctx.Err())
		case <-poll.C:
		}
	}
}

// Health probes the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/v1/healthz", nil)
}

// getJSON issues an authenticated GET with retries on transient
// failures.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("client: build request: %w", err)
		}

		lastErr = c.do(req, out)
		if lastErr == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && !apiErr.Retryable() {
			return lastErr
		}
		if attempt >= c.maxRetries {
			return lastErr
		}

		delay := c.retryDelay.Delay(attempt + 1)
		c.logger.Debug("retrying request",
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("client: %w (last error: %w)", ctx.Err(), lastErr)
		case <-time.After(delay):
		}
	}
}

// do sends one request and decodes the JSON response into out.
func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &APIError{StatusCode: http.StatusServiceUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(raw)
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			msg = body.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
