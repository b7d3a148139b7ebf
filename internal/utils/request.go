package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/palbooo/fcm-receiver-go/internal/constants"
	"go.uber.org/zap"
)

// RequestOptions contains options for making HTTP requests
type RequestOptions struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
	Form    map[string]string
}

// StatusError is returned for a response outside the 2xx range.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, string(e.Body))
}

// IsTransient reports whether err is a rejected request (HTTP 4xx), the only
// class of failure the transport retries.
func IsTransient(err error) bool {
	var serr *StatusError
	if !errors.As(err, &serr) {
		return false
	}
	return serr.StatusCode >= 400 && serr.StatusCode < 500
}

// Transport performs HTTP requests for check-in and registration. Rejected
// requests are retried after min(attempt*RetryStep, MaxRetryTimeout), without
// an attempt limit, until the request context is cancelled.
type Transport struct {
	RetryStep       time.Duration
	MaxRetryTimeout time.Duration

	client *retryablehttp.Client
	logger *zap.SugaredLogger
}

// NewTransport wraps httpClient, nil selects a client with a 30 second timeout
func NewTransport(httpClient *http.Client, logger *zap.SugaredLogger) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	t := &Transport{
		RetryStep:       constants.HTTPRetryStep,
		MaxRetryTimeout: constants.HTTPMaxRetryTimeout,
		logger:          logger,
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = httpClient
	client.Logger = leveledLogger{inner: logger}
	client.RetryMax = math.MaxInt32
	client.CheckRetry = checkRetry
	client.Backoff = t.backoff
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	t.client = client

	return t
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}
	return resp.StatusCode >= 400 && resp.StatusCode < 500, nil
}

func (t *Transport) backoff(_, _ time.Duration, attemptNum int, resp *http.Response) time.Duration {
	timeout := time.Duration(attemptNum) * t.RetryStep
	if timeout > t.MaxRetryTimeout {
		timeout = t.MaxRetryTimeout
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	t.logger.Debugw("Request rejected, retrying", "status", status, "attempt", attemptNum+1, "delay", timeout)

	return timeout
}

// Do performs the request through the retrying client and returns the body
// of a 2xx response
func (t *Transport) Do(ctx context.Context, opts RequestOptions) ([]byte, error) {
	method, body, headers := prepare(opts)

	// Create request
	req, err := retryablehttp.NewRequestWithContext(ctx, method, opts.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	// Perform request
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return readResponse(resp)
}

// SimpleRequest performs a single attempt without retry
func (t *Transport) SimpleRequest(ctx context.Context, opts RequestOptions) ([]byte, error) {
	method, body, headers := prepare(opts)

	req, err := http.NewRequestWithContext(ctx, method, opts.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := t.client.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return readResponse(resp)
}

// prepare resolves the method and encodes the form when no raw body is set
func prepare(opts RequestOptions) (string, []byte, map[string]string) {
	body := opts.Body
	headers := make(map[string]string, len(opts.Headers)+1)
	for k, v := range opts.Headers {
		headers[k] = v
	}
	if len(body) == 0 && len(opts.Form) > 0 {
		formData := url.Values{}
		for k, v := range opts.Form {
			formData.Set(k, v)
		}
		body = []byte(formData.Encode())
		if _, exists := headers["Content-Type"]; !exists {
			headers["Content-Type"] = "application/x-www-form-urlencoded"
		}
	}

	method := opts.Method
	if method == "" {
		method = http.MethodPost
	}

	return method, body, headers
}

func readResponse(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}

	return respBody, nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger
type leveledLogger struct {
	inner *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warnw(msg, keysAndValues...)
}
