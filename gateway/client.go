package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"talespinner/logging"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	headerUserID    = "X-User-Id"
	headerRequestID = "X-Request-Id"
)

type Options struct {
	BaseURL      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		BaseURL:      "http://localhost:8000",
		Timeout:      300 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 1 * time.Second,
		RetryWaitMax: 10 * time.Second,
	}
}

// Client talks to the talespinner backend. Calls that act on behalf of a user
// take the owner id explicitly; it is sent as X-User-Id.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *zap.Logger
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		httpClient:   newRetryClient(opts, logger).StandardClient(),
		streamClient: newRetryClient(opts, logger).StandardClient(),
		logger:       logger,
	}
	client.httpClient.Timeout = opts.Timeout
	return client
}

func newRetryClient(opts Options, logger *zap.Logger) *retryablehttp.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = logging.Leveled(logger)
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.CheckRetry = checkRetry
	return retryClient
}

type methodKey struct{}

// checkRetry only retries methods that are safe to repeat. A POST that reached
// the backend may already have created a world run or a preset.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	method, _ := ctx.Value(methodKey{}).(string)
	if resp != nil && resp.Request != nil {
		method = resp.Request.Method
	}
	if !idempotent(method) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) createRequest(ctx context.Context, method, path, owner string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(payloadBytes)
	}

	ctx = context.WithValue(ctx, methodKey{}, method)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, uuid.NewString())
	if owner != "" {
		req.Header.Set(headerUserID, owner)
	}
	return req, nil
}

// do sends one JSON request and decodes a 2xx body into out. A 204 response
// or a nil out leaves out untouched.
func (c *Client) do(ctx context.Context, method, path, owner string, payload, out any) error {
	req, err := c.createRequest(ctx, method, path, owner, payload)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", req.Header.Get(headerRequestID)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseError(resp.StatusCode, data)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
