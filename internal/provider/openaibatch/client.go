package openaibatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"driftwatch/internal/provider"
)

const (
	defaultHTTPTimeout      = 60 * time.Second
	defaultRetryMaxDelay    = 30 * time.Second
	defaultRetryBaseDelay   = 1 * time.Second
	defaultRetryAttempts    = 5
	defaultCompletionWindow = "24h"
	batchEndpoint           = "/v1/chat/completions"
)

// Config captures the runtime settings required to talk to the batch API.
type Config struct {
	APIKey            string
	BaseURL           string
	CompletionWindow  string
	TimeoutSeconds    int
	RequestsPerMinute int
}

// Client implements the analysis service contract over an OpenAI-compatible
// batch API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

var _ provider.SubmissionClient = (*Client)(nil)

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count (defaults to 5).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a batch API client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:            strings.TrimSpace(cfg.APIKey),
			BaseURL:           strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			CompletionWindow:  strings.TrimSpace(cfg.CompletionWindow),
			TimeoutSeconds:    cfg.TimeoutSeconds,
			RequestsPerMinute: cfg.RequestsPerMinute,
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://api.openai.com/v1"
	}
	if client.cfg.CompletionWindow == "" {
		client.cfg.CompletionWindow = defaultCompletionWindow
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.RequestsPerMinute > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}
	return client
}

// UploadFile uploads the request payload with purpose "batch" and returns
// the resulting file id.
func (c *Client) UploadFile(ctx context.Context, name string, contents io.Reader) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", errors.New("batch upload: api key required")
	}
	data, err := io.ReadAll(contents)
	if err != nil {
		return "", fmt.Errorf("batch upload: read payload: %w", err)
	}

	var uploaded struct {
		ID string `json:"id"`
	}
	err = c.doWithRetry(ctx, "batch upload", func() (*http.Request, error) {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		if err := writer.WriteField("purpose", "batch"); err != nil {
			return nil, fmt.Errorf("batch upload: write purpose: %w", err)
		}
		part, err := writer.CreateFormFile("file", name)
		if err != nil {
			return nil, fmt.Errorf("batch upload: create form file: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, fmt.Errorf("batch upload: write payload: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("batch upload: finalize form: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/files", bytes.NewReader(body.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("batch upload: new request: %w", err)
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	}, &uploaded)
	if err != nil {
		return "", err
	}
	if uploaded.ID == "" {
		return "", errors.New("batch upload: response missing file id")
	}
	return uploaded.ID, nil
}

type createJobRequest struct {
	InputFileID      string `json:"input_file_id"`
	Endpoint         string `json:"endpoint"`
	CompletionWindow string `json:"completion_window"`
}

// CreateJob starts an asynchronous batch job over a previously uploaded file.
func (c *Client) CreateJob(ctx context.Context, inputFileID string) (*provider.Job, error) {
	if strings.TrimSpace(inputFileID) == "" {
		return nil, errors.New("batch create: input file id required")
	}
	payload := createJobRequest{
		InputFileID:      inputFileID,
		Endpoint:         batchEndpoint,
		CompletionWindow: c.cfg.CompletionWindow,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("batch create: encode body: %w", err)
	}
	var job provider.Job
	err = c.doWithRetry(ctx, "batch create", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/batches", bytes.NewReader(encoded))
		if err != nil {
			return nil, fmt.Errorf("batch create: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &job)
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, errors.New("batch create: response missing job id")
	}
	return &job, nil
}

// JobStatus fetches the current state of a batch job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*provider.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, errors.New("batch status: job id required")
	}
	var job provider.Job
	err := c.doWithRetry(ctx, "batch status", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/batches/"+url.PathEscape(jobID), nil)
		if err != nil {
			return nil, fmt.Errorf("batch status: new request: %w", err)
		}
		return req, nil
	}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// DownloadFile streams the contents of an output or error file.
func (c *Client) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, errors.New("batch download: file id required")
	}
	attempts := c.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.waitForSlot(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/files/"+url.PathEscape(fileID)+"/content", nil)
		if err != nil {
			return nil, fmt.Errorf("batch download: new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		resp, err := c.httpClient.Do(req)
		if err == nil && resp.StatusCode < http.StatusMultipleChoices {
			return resp.Body, nil
		}
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
			err = &provider.StatusError{
				Code:       resp.StatusCode,
				Body:       strings.TrimSpace(string(body)),
				RetryAfter: retryAfter,
			}
		} else {
			err = fmt.Errorf("batch download: http error: %w", err)
		}
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return nil, err
		}
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return nil, fmt.Errorf("batch download: failed after %d attempts: %w", attempts, lastErr)
}

// DeleteFile removes an uploaded file. A missing file is not an error.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	if strings.TrimSpace(fileID) == "" {
		return nil
	}
	var deleted struct {
		Deleted bool `json:"deleted"`
	}
	err := c.doWithRetry(ctx, "batch delete file", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.BaseURL+"/files/"+url.PathEscape(fileID), nil)
		if err != nil {
			return nil, fmt.Errorf("batch delete file: new request: %w", err)
		}
		return req, nil
	}, &deleted)
	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) doWithRetry(ctx context.Context, op string, build func() (*http.Request, error), target any) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return fmt.Errorf("%s: api key required", op)
	}
	attempts := c.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.waitForSlot(ctx); err != nil {
			return err
		}
		err := c.sendOnce(ctx, op, build, target)
		if err == nil {
			return nil
		}
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return err
		}
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
}

func (c *Client) sendOnce(ctx context.Context, op string, build func() (*http.Request, error), target any) error {
	req, err := build()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: http error (timeout=%s): %w", op, c.timeoutDuration(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &provider.StatusError{
			Code:       resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) waitForSlot(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) timeoutDuration() time.Duration {
	if c == nil || c.httpClient == nil || c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}

func (c *Client) retryAttempts() int {
	if c == nil || c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts {
		return 0, false
	}
	if err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) {
		if !statusErr.Transient() && statusErr.Code != http.StatusRequestTimeout {
			return 0, false
		}
		if statusErr.RetryAfter > 0 {
			return c.capDelay(statusErr.RetryAfter), true
		}
		return c.backoffDelay(attempt), true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := defaultRetryBaseDelay
	maxDelay := defaultRetryMaxDelay
	if c != nil {
		if c.retryBaseDelay >= 0 {
			base = c.retryBaseDelay
		}
		if c.retryMaxDelay > 0 {
			maxDelay = c.retryMaxDelay
		}
	}
	if base <= 0 {
		return 0
	}
	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := defaultRetryMaxDelay
	if c != nil && c.retryMaxDelay > 0 {
		maxDelay = c.retryMaxDelay
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx == nil {
		return errors.New("batch retry: nil context")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c != nil && c.sleeper != nil {
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

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
