package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// retryPolicy bounds retries of transient failures (network errors, 5xx, 429).
type retryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

var defaultRetry = retryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 20 * time.Second}

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// backoff grows quadratically with jitter; a Retry-After header wins when present.
func (p retryPolicy) backoff(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		return min(time.Duration(secs)*time.Second, p.MaxDelay)
	}
	base := time.Duration(attempt*attempt) * p.BaseDelay
	jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
	return min(base+jitter, p.MaxDelay)
}

// doWithRetry executes the request built by buildReq, rebuilding it for every
// attempt so request bodies can be replayed.
func doWithRetry(ctx context.Context, client *http.Client, p retryPolicy, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var (
		lastErr    error
		retryAfter string
	)

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := p.backoff(attempt, retryAfter)
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			retryAfter = resp.Header.Get("Retry-After")
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("giving up after %d retries: %w", p.MaxRetries, lastErr)
}
