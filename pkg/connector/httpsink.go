package connector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/agentctl/pkg/apierrors"
	"github.com/cuemby/agentctl/pkg/metrics"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// HTTPSinkConfig configures the OutputSink implementation (spec §4.5.3).
type HTTPSinkConfig struct {
	Endpoint        string
	TimeoutSeconds  int
	MaxRetries      int
	BaseDelayMs     int
	MaxRetryDelayMs int
	RateLimitPerSec float64
}

func (c HTTPSinkConfig) withDefaults() HTTPSinkConfig {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelayMs == 0 {
		c.BaseDelayMs = 500
	}
	if c.MaxRetryDelayMs == 0 {
		c.MaxRetryDelayMs = 30000
	}
	if c.RateLimitPerSec == 0 {
		c.RateLimitPerSec = 20
	}
	return c
}

// HTTPSink delivers run results to an external HTTP endpoint, retrying
// transient failures with capped exponential backoff and tagging each
// attempt with an idempotency key so a retried delivery is safe to
// de-duplicate on the receiving end.
type HTTPSink struct {
	cfg     HTTPSinkConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPSink builds a sink posting to cfg.Endpoint. A circuit breaker wraps
// the whole retry loop per delivery: once a run of deliveries exhausts their
// retries, the breaker opens and further Deliver calls fail fast instead of
// spending a full retry budget against a downstream that is known to be
// down.
func NewHTTPSink(cfg HTTPSinkConfig) *HTTPSink {
	cfg = cfg.withDefaults()
	return &HTTPSink{
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), int(cfg.RateLimitPerSec)+1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "output-sink",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (s *HTTPSink) Deliver(ctx context.Context, idempotencyKey string, body []byte) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.deliverWithRetry(ctx, idempotencyKey, body)
	})
	return err
}

func (s *HTTPSink) deliverWithRetry(ctx context.Context, idempotencyKey string, body []byte) error {
	start := time.Now()
	defer func() { metrics.OutputDeliveryDuration.Observe(time.Since(start).Seconds()) }()

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.OutputDeliveryRetriesTotal.Inc()
			if err := s.wait(ctx, attempt); err != nil {
				return err
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		retryable, err := s.attempt(ctx, idempotencyKey, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return apierrors.Wrap(apierrors.KindTransient, lastErr, "output delivery failed after %d attempts", s.cfg.MaxRetries+1)
}

func (s *HTTPSink) wait(ctx context.Context, attempt int) error {
	delay := time.Duration(s.cfg.BaseDelayMs) * time.Millisecond
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	maxDelay := time.Duration(s.cfg.MaxRetryDelayMs) * time.Millisecond
	if delay > maxDelay {
		delay = maxDelay
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

// attempt makes one delivery try. The bool return reports whether a failure
// is worth retrying.
func (s *HTTPSink) attempt(ctx context.Context, idempotencyKey string, body []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return false, apierrors.Wrap(apierrors.KindNonRetryable, err, "building output request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return true, apierrors.Wrap(apierrors.KindTransient, err, "output sink request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return true, apierrors.Wrap(apierrors.KindTransient, fmt.Errorf("status %d", resp.StatusCode), "output sink returned a retryable status")
	default:
		return false, apierrors.Wrap(apierrors.KindNonRetryable, fmt.Errorf("status %d", resp.StatusCode), "output sink rejected the delivery")
	}
}
