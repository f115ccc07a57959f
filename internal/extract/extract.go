// Package extract pulls raw observations from the external sources: the
// Open-Meteo archive API, the ISRIC SoilGrids API, and agronomy reference
// pages. All sources are free tiers, so extraction is deliberately polite:
// token-bucket rate limiting per source, bounded retries with exponential
// backoff, and a circuit breaker that fails fast once a source is clearly
// down.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/agroflow-systems/agroflow/internal/metrics"
	"github.com/agroflow-systems/agroflow/pkg/types"
)

// responses larger than this are truncated; no source legitimately returns
// more.
const maxResponseBytes = 4 << 20

// client is the shared fetch core behind every source extractor.
type client struct {
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *Breaker
	retry     types.RetryPolicy
	userAgent string
	log       *slog.Logger
}

func newClient(timeout time.Duration, reqPerSec float64, retry types.RetryPolicy, userAgent string, log *slog.Logger) *client {
	if log == nil {
		log = slog.Default()
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.BackoffSeconds <= 0 {
		retry.BackoffSeconds = 1
	}
	if reqPerSec <= 0 {
		reqPerSec = 1
	}
	return &client{
		http:      &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(reqPerSec), 1),
		breaker:   NewBreaker(BreakerConfig{}),
		retry:     retry,
		userAgent: userAgent,
		log:       log,
	}
}

// fetch retrieves url with the source's politeness budget applied. Transient
// failures (5xx, 429, network errors) are retried with exponential backoff;
// client errors fail immediately and carry types.ErrFatalInfra.
func (c *client) fetch(ctx context.Context, source, url string) ([]byte, error) {
	if !c.breaker.Allow(source) {
		return nil, fmt.Errorf("%w: %s circuit open", types.ErrTransientInfra, source)
	}

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.ExtractRetries.Add(1)
			backoff := time.Duration(c.retry.BackoffSeconds) * time.Second << (attempt - 1)
			c.log.Warn("retrying extraction",
				"source", source, "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", types.ErrBatchCancelled, ctx.Err())
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrBatchCancelled, err)
		}

		body, err := c.doOnce(ctx, url)
		if err == nil {
			c.breaker.RecordSuccess(source)
			return body, nil
		}
		if errors.Is(err, types.ErrFatalInfra) || errors.Is(err, types.ErrBatchCancelled) {
			c.breaker.RecordFailure(source, types.FailurePermanent)
			return nil, err
		}
		c.breaker.RecordFailure(source, classify(err))
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s exhausted %d attempts: %v",
		types.ErrTransientInfra, source, c.retry.MaxAttempts, lastErr)
}

// classify separates timeouts from other retryable failures for the breaker.
func classify(err error) types.FailureCategory {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return types.FailureTimeout
	}
	return types.FailureTransient
}

func (c *client) doOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", types.ErrFatalInfra, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrBatchCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d from %s", types.ErrFatalInfra, resp.StatusCode, url)
	}
}

func (c *client) fetchJSON(ctx context.Context, source, url string, out interface{}) error {
	body, err := c.fetch(ctx, source, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", types.ErrFatalInfra, source, err)
	}
	return nil
}
