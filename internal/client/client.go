package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/kjstillabower/room-climate-charts/internal/models"
	"github.com/kjstillabower/room-climate-charts/internal/observability"
)

// Options configures the HTTP behaviour shared by all upstream clients.
type Options struct {
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// HTTPClient overrides the default client; its Timeout is left untouched.
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 1
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 100 * time.Millisecond
	}
	if o.RetryMaxDelay < o.RetryBaseDelay {
		o.RetryMaxDelay = o.RetryBaseDelay
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	return o
}

// StatusError reports a non-2xx response. It wraps models.ErrUpstream.
type StatusError struct {
	Service    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.Service, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return models.ErrUpstream
}

// requester performs GET requests for one upstream service with bounded
// retries and exponential backoff. service is used as the metric label.
type requester struct {
	service        string
	client         *http.Client
	timeout        time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

func newRequester(service string, opts Options) *requester {
	opts = opts.withDefaults()
	return &requester{
		service:        service,
		client:         opts.HTTPClient,
		timeout:        opts.Timeout,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
	}
}

// get returns the body of a 2xx response for rawURL.
func (r *requester) get(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(r.service).Inc()
			delay := r.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := r.call(ctx, rawURL)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			break
		}
	}

	observability.UpstreamErrorsTotal.WithLabelValues(r.service, string(CategorizeError(lastErr))).Inc()
	return nil, lastErr
}

func (r *requester) call(ctx context.Context, rawURL string) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(r.service, "error").Inc()
		return nil, fmt.Errorf("%w: %s: build request: %v", models.ErrUpstream, r.service, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(r.service, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(r.service, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s: request timeout: %w", models.ErrUpstream, r.service, err)
		}
		return nil, fmt.Errorf("%w: %s: http request failed: %w", models.ErrUpstream, r.service, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(r.service, status).Inc()
	observability.UpstreamDuration.WithLabelValues(r.service, status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Service: r.service, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read response body: %w", models.ErrUpstream, r.service, err)
	}
	return body, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "http request failed")
}

func (r *requester) calculateBackoff(attempt int) time.Duration {
	delay := float64(r.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(r.retryMaxDelay) {
		delay = float64(r.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
